package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/services"
)

// POST /api/sessions
func (rt *Router) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string         `json:"participant_id"`
		Metadata      models.JSONMap `json:"metadata"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := rt.sessions.Create(req.ParticipantID, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": sess})
}

// GET /api/sessions?page&limit&status&participant_id&start_date&end_date
func (rt *Router) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, ok := filterFromQuery(w, q.Get("status"), q.Get("participant_id"), q.Get("start_date"), q.Get("end_date"))
	if !ok {
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	res, err := rt.sessions.List(filter, page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET|PATCH /api/sessions/{id}
func (rt *Router) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		bundle, err := rt.sessions.Get(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bundle)
	case http.MethodPatch:
		var req struct {
			Status      string     `json:"status"`
			CompletedAt *time.Time `json:"completed_at"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Status == "" {
			writeError(w, http.StatusBadRequest, "status required")
			return
		}
		sess, err := rt.sessions.UpdateStatus(id, models.SessionStatus(req.Status), req.CompletedAt)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func filterFromQuery(w http.ResponseWriter, status, participantID, startDate, endDate string) (services.SessionFilter, bool) {
	var f services.SessionFilter
	f.Status = models.SessionStatus(status)
	f.ParticipantID = participantID
	start, ok := parseDate(startDate)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid start_date")
		return f, false
	}
	end, ok := parseDate(endDate)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid end_date")
		return f, false
	}
	f.StartDate = start
	f.EndDate = end
	return f, true
}
