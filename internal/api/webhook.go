package api

import (
	"net/http"

	"github.com/clipdock/usability/internal/models"
)

// POST /api/webhook records a notification for a session, optionally
// delivering it outbound. GET returns the contract documentation.
func (rt *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, webhookDocs)
	case http.MethodPost:
		var req struct {
			SessionID        string         `json:"session_id"`
			NotificationType string         `json:"notification_type"`
			Data             models.JSONMap `json:"data"`
			WebhookURL       string         `json:"webhook_url"`
			Timestamp        string         `json:"timestamp"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id required")
			return
		}
		n, err := rt.sessions.CreateNotification(req.SessionID, models.NotificationType(req.NotificationType), req.Data, req.WebhookURL)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"notification": n})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

var webhookDocs = map[string]any{
	"endpoint":    "/api/webhook",
	"description": "Records a notification for a usability-testing session. When webhook_url is set the payload is posted there once; failed deliveries are recorded with status=failed and are not retried.",
	"methods": map[string]any{
		"POST": map[string]any{
			"body": map[string]string{
				"session_id":        "required, existing session id",
				"notification_type": "required, one of session_created|form_submitted|session_completed|session_abandoned",
				"data":              "optional JSON object attached as metadata",
				"webhook_url":       "optional outbound delivery target",
				"timestamp":         "optional, informational only",
			},
			"responses": map[string]string{
				"201": "notification record",
				"400": "invalid notification_type or missing session_id",
				"404": "session not found",
			},
		},
		"GET": map[string]any{
			"responses": map[string]string{"200": "this documentation payload"},
		},
	},
}
