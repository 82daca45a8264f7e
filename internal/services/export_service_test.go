package services

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/clipdock/usability/internal/models"
)

type stubExportStore struct {
	bundles []*SessionBundle
	filter  SessionFilter
}

func (s *stubExportStore) ExportSessions(f SessionFilter) ([]*SessionBundle, error) {
	s.filter = f
	return s.bundles, nil
}

func TestExportJSON(t *testing.T) {
	store := &stubExportStore{bundles: exportFixture()}
	svc := NewExportService(store)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }

	res, err := svc.Export(ExportParams{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Filename != "usability-testing-export-2026-03-02.json" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if res.ContentType != "application/json" {
		t.Fatalf("content type = %q", res.ContentType)
	}

	var payload struct {
		ExportInfo ExportInfo       `json:"export_info"`
		Metrics    ExportMetrics    `json:"metrics"`
		Sessions   []*SessionBundle `json:"sessions"`
	}
	if err := json.Unmarshal(res.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ExportInfo.TotalSessions != 2 {
		t.Fatalf("total sessions = %d, want 2", payload.ExportInfo.TotalSessions)
	}
	if payload.ExportInfo.TotalSubmissions != 2 {
		t.Fatalf("total submissions = %d, want 2", payload.ExportInfo.TotalSubmissions)
	}
	if payload.Metrics.NPSResponses != 1 || payload.Metrics.NPS != 100 {
		t.Fatalf("nps metrics = %+v", payload.Metrics)
	}
	if len(payload.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(payload.Sessions))
	}
}

func TestExportCSVFormat(t *testing.T) {
	store := &stubExportStore{bundles: exportFixture()}
	svc := NewExportService(store)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }

	res, err := svc.Export(ExportParams{Format: "csv"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Filename != "usability-testing-export-2026-03-02.csv" {
		t.Fatalf("filename = %q", res.Filename)
	}
	if !strings.HasPrefix(res.ContentType, "text/csv") {
		t.Fatalf("content type = %q", res.ContentType)
	}
	if !strings.HasPrefix(string(res.Data), "session_id,") {
		t.Fatalf("csv does not start with header: %q", string(res.Data)[:40])
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&stubExportStore{})
	_, err := svc.Export(ExportParams{Format: "xlsx"})
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid-format error, got %v", err)
	}
}

func TestExportRejectsInvalidStatusFilter(t *testing.T) {
	svc := NewExportService(&stubExportStore{})
	_, err := svc.Export(ExportParams{Filter: SessionFilter{Status: "archived"}})
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid-status error, got %v", err)
	}
}

func TestComputeMetrics(t *testing.T) {
	bundles := []*SessionBundle{
		{Submissions: []*models.FormSubmission{
			{FormType: models.FormPostTestSUS, FormData: susPayload(5, 1)},
			{FormType: models.FormPostTestNPS, FormData: models.JSONMap{"rating": float64(10)}},
		}},
		{Submissions: []*models.FormSubmission{
			{FormType: models.FormPostTestSUS, FormData: susPayload(3, 3)},
			{FormType: models.FormPostTestNPS, FormData: models.JSONMap{"rating": float64(3)}},
		}},
		// malformed payloads are skipped, not fatal
		{Submissions: []*models.FormSubmission{
			{FormType: models.FormPostTestSUS, FormData: models.JSONMap{"q1": float64(3)}},
			{FormType: models.FormPostTestNPS, FormData: models.JSONMap{}},
		}},
	}
	m := ComputeMetrics(bundles)
	if m.SUSResponses != 2 {
		t.Fatalf("sus responses = %d, want 2", m.SUSResponses)
	}
	if m.AverageSUS != 75 {
		t.Fatalf("average sus = %v, want 75", m.AverageSUS)
	}
	if m.NPSResponses != 2 {
		t.Fatalf("nps responses = %d, want 2", m.NPSResponses)
	}
	// one promoter, one detractor out of two
	if m.NPS != 0 {
		t.Fatalf("nps = %d, want 0", m.NPS)
	}
}
