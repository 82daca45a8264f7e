package api

import (
	"fmt"
	"net/http"

	"github.com/clipdock/usability/internal/services"
)

// GET /api/export?format=json|csv&status&participant_id&start_date&end_date
func (rt *Router) exportSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, ok := filterFromQuery(w, q.Get("status"), q.Get("participant_id"), q.Get("start_date"), q.Get("end_date"))
	if !ok {
		return
	}
	res, err := rt.export.Export(services.ExportParams{Format: q.Get("format"), Filter: filter})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", res.Filename))
	_, _ = w.Write(res.Data)
}
