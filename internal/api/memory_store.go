package api

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clipdock/usability/internal/fault"
	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/services"
)

// memoryStore keeps everything in process memory. It backs handler tests
// and the dev mode where no DATABASE_URL is configured.
type memoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*models.Session
	submissions   map[string][]*models.FormSubmission
	notifications map[string][]*models.Notification
	nowFn         func() time.Time
}

func NewMemoryStore() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions:      map[string]*models.Session{},
		submissions:   map[string][]*models.FormSubmission{},
		notifications: map[string][]*models.Notification{},
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) CreateSession(sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fault.ErrUniqueViolation
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memoryStore) GetSession(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *memoryStore) GetSessionBundle(id string) (*services.SessionBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &services.SessionBundle{
		Session:       &cp,
		Submissions:   append([]*models.FormSubmission{}, s.submissions[id]...),
		Notifications: append([]*models.Notification{}, s.notifications[id]...),
	}, nil
}

func (s *memoryStore) UpdateSessionStatus(id string, status models.SessionStatus, completedAt *time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	sess.Status = status
	if completedAt != nil {
		sess.CompletedAt = completedAt
	}
	cp := *sess
	return &cp, nil
}

func (s *memoryStore) ListSessions(f services.SessionFilter, page, limit int) ([]*models.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.filtered(f)
	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return []*models.Session{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *memoryStore) filtered(f services.SessionFilter) []*models.Session {
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if matchesFilter(sess, f) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	// newest first, stable for paging
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func matchesFilter(sess *models.Session, f services.SessionFilter) bool {
	if f.Status != "" && sess.Status != f.Status {
		return false
	}
	if f.ParticipantID != "" && !strings.Contains(strings.ToLower(sess.ParticipantID), strings.ToLower(f.ParticipantID)) {
		return false
	}
	if f.StartDate != nil && sess.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && sess.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}

func (s *memoryStore) SubmissionCounts(sessionIDs []string) (map[string]map[models.FormType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]map[models.FormType]int{}
	for _, id := range sessionIDs {
		counts := map[models.FormType]int{}
		for _, sub := range s.submissions[id] {
			counts[sub.FormType]++
		}
		out[id] = counts
	}
	return out, nil
}

func (s *memoryStore) CreateSubmission(sub *models.FormSubmission) (*services.SubmitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sub.SessionID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	if sess.Status == models.StatusCompleted {
		return nil, services.ErrSessionCompleted
	}
	if sess.Expired(s.nowFn()) {
		return nil, services.ErrSessionExpired
	}
	count := 0
	for _, existing := range s.submissions[sub.SessionID] {
		if existing.FormType == sub.FormType {
			count++
		}
	}
	if sub.FormType.Singleton() && count > 0 {
		return nil, services.ErrDuplicateForm
	}
	if sub.FormType == models.FormPostTask && count >= models.MaxPostTasks {
		return nil, services.ErrTaskLimit
	}
	cp := *sub
	s.submissions[sub.SessionID] = append(s.submissions[sub.SessionID], &cp)

	completedNow := false
	if allTypesPresent(s.submissions[sub.SessionID]) {
		sess.Status = models.StatusCompleted
		t := sub.SubmittedAt
		sess.CompletedAt = &t
		completedNow = true
	}
	sessCp := *sess
	return &services.SubmitOutcome{Submission: sub, Session: &sessCp, CompletedNow: completedNow}, nil
}

func allTypesPresent(subs []*models.FormSubmission) bool {
	seen := map[models.FormType]bool{}
	for _, sub := range subs {
		seen[sub.FormType] = true
	}
	for _, t := range models.RequiredFormTypes {
		if !seen[t] {
			return false
		}
	}
	return true
}

func (s *memoryStore) AddNotification(n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[n.SessionID] = append(s.notifications[n.SessionID], &cp)
	return nil
}

// ExportSessions returns bundles in creation order, matching the SQL store.
func (s *memoryStore) ExportSessions(f services.SessionFilter) ([]*services.SessionBundle, error) {
	s.mu.RLock()
	matched := s.filtered(f)
	s.mu.RUnlock()
	// filtered sorts newest-first for listing; exports run oldest-first
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	out := make([]*services.SessionBundle, 0, len(matched))
	for _, sess := range matched {
		b, err := s.GetSessionBundle(sess.ID)
		if err != nil {
			return nil, err
		}
		if b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}
