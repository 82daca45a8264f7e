package api

import (
	"net/http"

	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/services"
)

// POST /api/submit
func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		SessionID string         `json:"session_id"`
		FormType  string         `json:"form_type"`
		FormData  models.JSONMap `json:"form_data"`
		Version   string         `json:"version"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := rt.sessions.Submit(services.SubmitRequest{
		SessionID: req.SessionID,
		FormType:  models.FormType(req.FormType),
		FormData:  req.FormData,
		Version:   req.Version,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	msg := "form submitted"
	if out.CompletedNow {
		msg = "form submitted; session completed"
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"submission": out.Submission,
		"session":    out.Session,
		"message":    msg,
	})
}
