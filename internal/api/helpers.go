package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/clipdock/usability/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service error kinds onto HTTP statuses. Anything
// that is not a ServiceError is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		switch se.Code {
		case services.ErrorInvalid:
			writeError(w, http.StatusBadRequest, se.Message)
		case services.ErrorUnauthorized:
			writeError(w, http.StatusUnauthorized, se.Message)
		case services.ErrorForbidden:
			writeError(w, http.StatusForbidden, se.Message)
		case services.ErrorNotFound:
			writeError(w, http.StatusNotFound, se.Message)
		case services.ErrorConflict:
			writeError(w, http.StatusConflict, se.Message)
		default:
			writeError(w, http.StatusInternalServerError, se.Message)
		}
		return
	}
	log.Printf("api: internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// parseDate accepts YYYY-MM-DD or RFC3339 query values.
func parseDate(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, true
	}
	return nil, false
}
