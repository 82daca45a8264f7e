package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/clipdock/usability/internal/models"
)

// ExportStore abstracts the read side needed for bulk export.
type ExportStore interface {
	ExportSessions(f SessionFilter) ([]*SessionBundle, error)
}

type ExportParams struct {
	Format string // "json" or "csv"
	Filter SessionFilter
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportInfo describes one export run inside the JSON payload.
type ExportInfo struct {
	ExportedAt       time.Time      `json:"exported_at"`
	TotalSessions    int            `json:"total_sessions"`
	TotalSubmissions int            `json:"total_submissions"`
	Filters          map[string]any `json:"filters"`
}

// ExportMetrics carries the derived usability metrics across all exported
// sessions: mean SUS score and the Net Promoter Score.
type ExportMetrics struct {
	AverageSUS   float64 `json:"average_sus"`
	SUSResponses int     `json:"sus_responses"`
	NPS          int     `json:"nps"`
	NPSResponses int     `json:"nps_responses"`
}

type exportPayload struct {
	ExportInfo ExportInfo       `json:"export_info"`
	Metrics    ExportMetrics    `json:"metrics"`
	Sessions   []*SessionBundle `json:"sessions"`
}

type ExportService struct {
	store ExportStore
	now   func() time.Time
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ExportService) Export(params ExportParams) (*ExportResult, error) {
	format := params.Format
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		return nil, NewInvalidError("unsupported format")
	}
	if params.Filter.Status != "" && !params.Filter.Status.Valid() {
		return nil, NewInvalidError("invalid status")
	}
	bundles, err := s.store.ExportSessions(params.Filter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	name := fmt.Sprintf("usability-testing-export-%s", now.Format("2006-01-02"))

	if format == "csv" {
		b, err := ExportSessionsCSV(bundles)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: name + ".csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	}

	totalSubs := 0
	for _, b := range bundles {
		totalSubs += len(b.Submissions)
	}
	payload := exportPayload{
		ExportInfo: ExportInfo{
			ExportedAt:       now,
			TotalSessions:    len(bundles),
			TotalSubmissions: totalSubs,
			Filters:          filterMap(params.Filter),
		},
		Metrics:  ComputeMetrics(bundles),
		Sessions: bundles,
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, err
	}
	return &ExportResult{Filename: name + ".json", ContentType: "application/json", Data: b}, nil
}

// ComputeMetrics derives SUS and NPS figures from posttest submissions.
// Malformed payloads are skipped rather than failing the export.
func ComputeMetrics(bundles []*SessionBundle) ExportMetrics {
	var m ExportMetrics
	var susTotal float64
	var nps NPS
	for _, b := range bundles {
		for _, sub := range b.Submissions {
			switch sub.FormType {
			case models.FormPostTestSUS:
				score, err := SUSScore(sub.FormData)
				if err != nil {
					continue
				}
				susTotal += score
				m.SUSResponses++
			case models.FormPostTestNPS:
				rating, ok := NPSRating(sub.FormData)
				if !ok {
					continue
				}
				nps.Add(rating)
			}
		}
	}
	if m.SUSResponses > 0 {
		m.AverageSUS = susTotal / float64(m.SUSResponses)
	}
	m.NPSResponses = nps.TotalSurvey
	if v, err := nps.CalculateNPS(); err == nil {
		m.NPS = v
	}
	return m
}

func filterMap(f SessionFilter) map[string]any {
	out := map[string]any{}
	if f.Status != "" {
		out["status"] = f.Status
	}
	if f.ParticipantID != "" {
		out["participant_id"] = f.ParticipantID
	}
	if f.StartDate != nil {
		out["start_date"] = f.StartDate.Format(time.RFC3339)
	}
	if f.EndDate != nil {
		out["end_date"] = f.EndDate.Format(time.RFC3339)
	}
	return out
}
