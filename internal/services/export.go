package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"time"

	"github.com/clipdock/usability/internal/models"
)

var exportHeader = []string{
	"session_id", "participant_id", "status", "created_at", "expires_at", "completed_at",
	"submission_id", "form_type", "submitted_at", "version", "form_data",
}

// ExportSessionsCSV renders one row per submission. A session without
// submissions still yields one row with the submission columns empty.
func ExportSessionsCSV(bundles []*SessionBundle) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(exportHeader)
	for _, b := range bundles {
		base := sessionColumns(b.Session)
		if len(b.Submissions) == 0 {
			if err := w.Write(append(base, "", "", "", "", "")); err != nil {
				return nil, err
			}
			continue
		}
		for _, sub := range b.Submissions {
			rec := append(append([]string{}, base...),
				sub.ID,
				string(sub.FormType),
				sub.SubmittedAt.Format(time.RFC3339),
				sub.Version,
				encodeFormData(sub.FormData),
			)
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func sessionColumns(s *models.Session) []string {
	completed := ""
	if s.CompletedAt != nil {
		completed = s.CompletedAt.Format(time.RFC3339)
	}
	return []string{
		s.ID,
		s.ParticipantID,
		string(s.Status),
		s.CreatedAt.Format(time.RFC3339),
		s.ExpiresAt.Format(time.RFC3339),
		completed,
	}
}

func encodeFormData(data models.JSONMap) string {
	if data == nil {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
