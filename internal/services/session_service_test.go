package services

import (
	"testing"
	"time"

	"github.com/clipdock/usability/internal/models"
)

type stubSessionStore struct {
	sessions      map[string]*models.Session
	notifications []*models.Notification
	submitErr     error
	submitOutcome *SubmitOutcome
	lastSubmitted *models.FormSubmission
	listed        []*models.Session
	listTotal     int
	listPage      int
	listLimit     int
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: map[string]*models.Session{}}
}

func (s *stubSessionStore) CreateSession(sess *models.Session) error {
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *stubSessionStore) GetSession(id string) (*models.Session, error) {
	return s.sessions[id], nil
}

func (s *stubSessionStore) GetSessionBundle(id string) (*SessionBundle, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &SessionBundle{Session: sess}, nil
}

func (s *stubSessionStore) UpdateSessionStatus(id string, status models.SessionStatus, completedAt *time.Time) (*models.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	sess.Status = status
	if completedAt != nil {
		sess.CompletedAt = completedAt
	}
	return sess, nil
}

func (s *stubSessionStore) ListSessions(f SessionFilter, page, limit int) ([]*models.Session, int, error) {
	s.listPage, s.listLimit = page, limit
	return s.listed, s.listTotal, nil
}

func (s *stubSessionStore) SubmissionCounts(sessionIDs []string) (map[string]map[models.FormType]int, error) {
	out := map[string]map[models.FormType]int{}
	for _, id := range sessionIDs {
		out[id] = map[models.FormType]int{}
	}
	return out, nil
}

func (s *stubSessionStore) CreateSubmission(sub *models.FormSubmission) (*SubmitOutcome, error) {
	s.lastSubmitted = sub
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if s.submitOutcome != nil {
		return s.submitOutcome, nil
	}
	return &SubmitOutcome{Submission: sub, Session: s.sessions[sub.SessionID]}, nil
}

func (s *stubSessionStore) AddNotification(n *models.Notification) error {
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *stubSessionStore) notificationTypes() []models.NotificationType {
	out := make([]models.NotificationType, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n.Type)
	}
	return out
}

func fixedTime() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func newTestService(store *stubSessionStore) *SessionService {
	svc := NewSessionService(store)
	svc.now = fixedTime
	svc.idGen = func() string { return "SESS1" }
	svc.httpClient = nil
	return svc
}

func TestCreateSession(t *testing.T) {
	store := newStubSessionStore()
	svc := newTestService(store)

	sess, err := svc.Create("P1", models.JSONMap{"browser": "firefox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID != "SESS1" || sess.Status != models.StatusInProgress {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.ExpiresAt.Equal(fixedTime().Add(48 * time.Hour)) {
		t.Fatalf("expires_at = %v, want created+48h", sess.ExpiresAt)
	}
	types := store.notificationTypes()
	if len(types) != 1 || types[0] != models.NotifySessionCreated {
		t.Fatalf("notifications = %v, want [session_created]", types)
	}
}

func TestCreateSessionRequiresParticipant(t *testing.T) {
	svc := newTestService(newStubSessionStore())
	_, err := svc.Create("   ", nil)
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	svc := newTestService(newStubSessionStore())
	_, err := svc.Get("missing")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpdateStatusCompletedSetsTimestamp(t *testing.T) {
	store := newStubSessionStore()
	store.sessions["SESS1"] = &models.Session{ID: "SESS1", Status: models.StatusInProgress}
	svc := newTestService(store)

	sess, err := svc.UpdateStatus("SESS1", models.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if sess.CompletedAt == nil || !sess.CompletedAt.Equal(fixedTime()) {
		t.Fatalf("completed_at = %v, want service clock", sess.CompletedAt)
	}
	types := store.notificationTypes()
	if len(types) != 1 || types[0] != models.NotifySessionCompleted {
		t.Fatalf("notifications = %v, want [session_completed]", types)
	}
}

func TestUpdateStatusAbandonedNotifies(t *testing.T) {
	store := newStubSessionStore()
	store.sessions["SESS1"] = &models.Session{ID: "SESS1", Status: models.StatusInProgress}
	svc := newTestService(store)

	if _, err := svc.UpdateStatus("SESS1", models.StatusAbandoned, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	types := store.notificationTypes()
	if len(types) != 1 || types[0] != models.NotifySessionAbandoned {
		t.Fatalf("notifications = %v, want [session_abandoned]", types)
	}
}

func TestUpdateStatusRejectsUnknown(t *testing.T) {
	svc := newTestService(newStubSessionStore())
	_, err := svc.UpdateStatus("SESS1", "archived", nil)
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestListClampsPaging(t *testing.T) {
	cases := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, 20},
		{-3, -1, 1, 20},
		{2, 500, 2, 100},
		{1, 5, 1, 5},
	}
	for _, c := range cases {
		store := newStubSessionStore()
		svc := newTestService(store)
		res, err := svc.List(SessionFilter{}, c.page, c.limit)
		if err != nil {
			t.Fatalf("list(%d,%d): %v", c.page, c.limit, err)
		}
		if store.listPage != c.wantPage || store.listLimit != c.wantLimit {
			t.Fatalf("list(%d,%d) queried (%d,%d), want (%d,%d)",
				c.page, c.limit, store.listPage, store.listLimit, c.wantPage, c.wantLimit)
		}
		if res.Pagination.Page != c.wantPage || res.Pagination.Limit != c.wantLimit {
			t.Fatalf("pagination = %+v", res.Pagination)
		}
	}
}

func TestListTotalPages(t *testing.T) {
	store := newStubSessionStore()
	store.listTotal = 41
	svc := newTestService(store)
	res, err := svc.List(SessionFilter{}, 1, 20)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Pagination.TotalPages != 3 {
		t.Fatalf("total pages = %d, want 3", res.Pagination.TotalPages)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := newTestService(newStubSessionStore())
	cases := []struct {
		name string
		req  SubmitRequest
	}{
		{"missing session", SubmitRequest{FormType: models.FormPretest, FormData: models.JSONMap{}}},
		{"bad form type", SubmitRequest{SessionID: "S1", FormType: "selfie", FormData: models.JSONMap{}}},
		{"missing data", SubmitRequest{SessionID: "S1", FormType: models.FormPretest}},
	}
	for _, c := range cases {
		_, err := svc.Submit(c.req)
		se, ok := AsServiceError(err)
		if !ok || se.Code != ErrorInvalid {
			t.Fatalf("%s: expected invalid error, got %v", c.name, err)
		}
	}
}

func TestSubmitDefaultsVersion(t *testing.T) {
	store := newStubSessionStore()
	store.sessions["S1"] = &models.Session{ID: "S1"}
	svc := newTestService(store)

	if _, err := svc.Submit(SubmitRequest{SessionID: "S1", FormType: models.FormPretest, FormData: models.JSONMap{"age": "25-34"}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if store.lastSubmitted.Version != "1.0" {
		t.Fatalf("version = %q, want 1.0", store.lastSubmitted.Version)
	}
}

func TestSubmitTranslatesStoreSentinels(t *testing.T) {
	cases := []struct {
		sentinel error
		want     ErrorCode
	}{
		{ErrSessionNotFound, ErrorNotFound},
		{ErrSessionCompleted, ErrorInvalid},
		{ErrSessionExpired, ErrorInvalid},
		{ErrDuplicateForm, ErrorConflict},
		{ErrTaskLimit, ErrorConflict},
	}
	for _, c := range cases {
		store := newStubSessionStore()
		store.submitErr = c.sentinel
		svc := newTestService(store)
		_, err := svc.Submit(SubmitRequest{SessionID: "S1", FormType: models.FormPretest, FormData: models.JSONMap{}})
		se, ok := AsServiceError(err)
		if !ok || se.Code != c.want {
			t.Fatalf("%v: got %v, want code %d", c.sentinel, err, c.want)
		}
	}
}

func TestSubmitNotifiesCompletion(t *testing.T) {
	store := newStubSessionStore()
	store.sessions["S1"] = &models.Session{ID: "S1"}
	store.submitOutcome = &SubmitOutcome{
		Submission:   &models.FormSubmission{ID: "sub_x", SessionID: "S1"},
		Session:      &models.Session{ID: "S1", Status: models.StatusCompleted},
		CompletedNow: true,
	}
	svc := newTestService(store)

	out, err := svc.Submit(SubmitRequest{SessionID: "S1", FormType: models.FormPostTestFeedback, FormData: models.JSONMap{"overall": "good"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !out.CompletedNow {
		t.Fatalf("expected completion outcome")
	}
	types := store.notificationTypes()
	if len(types) != 2 || types[0] != models.NotifyFormSubmitted || types[1] != models.NotifySessionCompleted {
		t.Fatalf("notifications = %v, want [form_submitted session_completed]", types)
	}
}

func TestCreateNotification(t *testing.T) {
	store := newStubSessionStore()
	store.sessions["S1"] = &models.Session{ID: "S1"}
	svc := newTestService(store)

	n, err := svc.CreateNotification("S1", models.NotifyFormSubmitted, models.JSONMap{"form_type": "pretest"}, "")
	if err != nil {
		t.Fatalf("create notification: %v", err)
	}
	if n.Status != models.NotificationSent || n.SessionID != "S1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("stored notifications = %d, want 1", len(store.notifications))
	}
}

func TestCreateNotificationUnknownSession(t *testing.T) {
	svc := newTestService(newStubSessionStore())
	_, err := svc.CreateNotification("missing", models.NotifyFormSubmitted, nil, "")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCreateNotificationInvalidType(t *testing.T) {
	svc := newTestService(newStubSessionStore())
	_, err := svc.CreateNotification("S1", "carrier_pigeon", nil, "")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
}
