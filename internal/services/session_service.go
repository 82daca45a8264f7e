package services

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipdock/usability/internal/models"
)

// SessionFilter narrows session list and export queries.
type SessionFilter struct {
	Status        models.SessionStatus
	ParticipantID string // substring match
	StartDate     *time.Time
	EndDate       *time.Time
}

// SessionBundle is a session with its dependent rows.
type SessionBundle struct {
	Session       *models.Session          `json:"session"`
	Submissions   []*models.FormSubmission `json:"submissions"`
	Notifications []*models.Notification   `json:"notifications"`
}

// SubmitOutcome reports what a submission did to the owning session.
type SubmitOutcome struct {
	Submission   *models.FormSubmission
	Session      *models.Session
	CompletedNow bool
}

// SessionStore abstracts persistence for the session workflow. The
// CreateSubmission implementation must perform the insert and the
// completion-status update atomically.
type SessionStore interface {
	CreateSession(s *models.Session) error
	GetSession(id string) (*models.Session, error)
	GetSessionBundle(id string) (*SessionBundle, error)
	UpdateSessionStatus(id string, status models.SessionStatus, completedAt *time.Time) (*models.Session, error)
	ListSessions(f SessionFilter, page, limit int) ([]*models.Session, int, error)
	SubmissionCounts(sessionIDs []string) (map[string]map[models.FormType]int, error)
	CreateSubmission(sub *models.FormSubmission) (*SubmitOutcome, error)
	AddNotification(n *models.Notification) error
}

// SessionSummary is the denormalized list view.
type SessionSummary struct {
	*models.Session
	FormCount int               `json:"form_count"`
	FormTypes []models.FormType `json:"form_types"`
	Expired   bool              `json:"expired"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type SessionPage struct {
	Sessions   []*SessionSummary `json:"sessions"`
	Pagination Pagination        `json:"pagination"`
}

type SubmitRequest struct {
	SessionID string
	FormType  models.FormType
	FormData  models.JSONMap
	Version   string
}

type SessionService struct {
	store SessionStore
	now   func() time.Time
	idGen func() string
	// posts outbound webhook payloads; nil disables delivery
	httpClient *http.Client
}

func NewSessionService(store SessionStore) *SessionService {
	return &SessionService{
		store:      store,
		now:        func() time.Time { return time.Now().UTC() },
		idGen:      uuid.NewString,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func (s *SessionService) Create(participantID string, metadata models.JSONMap) (*models.Session, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, NewInvalidError("participant_id required")
	}
	now := s.now()
	sess := &models.Session{
		ID:            s.idGen(),
		ParticipantID: participantID,
		Status:        models.StatusInProgress,
		Metadata:      metadata,
		CreatedAt:     now,
		ExpiresAt:     now.Add(models.SessionTTL),
	}
	if err := s.store.CreateSession(sess); err != nil {
		return nil, err
	}
	s.notify(sess.ID, models.NotifySessionCreated, models.JSONMap{"participant_id": participantID}, "")
	return sess, nil
}

func (s *SessionService) Get(id string) (*SessionBundle, error) {
	b, err := s.store.GetSessionBundle(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, NewNotFoundError("session not found")
	}
	return b, nil
}

func (s *SessionService) UpdateStatus(id string, status models.SessionStatus, completedAt *time.Time) (*models.Session, error) {
	if !status.Valid() {
		return nil, NewInvalidError("invalid status")
	}
	if status == models.StatusCompleted && completedAt == nil {
		t := s.now()
		completedAt = &t
	}
	sess, err := s.store.UpdateSessionStatus(id, status, completedAt)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, NewNotFoundError("session not found")
	}
	switch status {
	case models.StatusCompleted:
		s.notify(id, models.NotifySessionCompleted, nil, "")
	case models.StatusAbandoned:
		s.notify(id, models.NotifySessionAbandoned, nil, "")
	}
	return sess, nil
}

func (s *SessionService) List(f SessionFilter, page, limit int) (*SessionPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, NewInvalidError("invalid status")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	sessions, total, err := s.store.ListSessions(f, page, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	counts, err := s.store.SubmissionCounts(ids)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess, counts[sess.ID], now))
	}
	totalPages := (total + limit - 1) / limit
	return &SessionPage{
		Sessions:   out,
		Pagination: Pagination{Page: page, Limit: limit, Total: total, TotalPages: totalPages},
	}, nil
}

func summarize(sess *models.Session, counts map[models.FormType]int, now time.Time) *SessionSummary {
	sum := &SessionSummary{Session: sess, Expired: sess.Expired(now), FormTypes: []models.FormType{}}
	for _, t := range models.RequiredFormTypes {
		if n := counts[t]; n > 0 {
			sum.FormCount += n
			sum.FormTypes = append(sum.FormTypes, t)
		}
	}
	return sum
}

// Submit records one form submission. Duplicate caps, expiry and completion
// detection are enforced atomically by the store; this layer validates the
// request shape and translates store sentinels.
func (s *SessionService) Submit(req SubmitRequest) (*SubmitOutcome, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, NewInvalidError("session_id required")
	}
	if !req.FormType.Valid() {
		return nil, NewInvalidError("invalid form_type")
	}
	if req.FormData == nil {
		return nil, NewInvalidError("form_data required")
	}
	version := req.Version
	if version == "" {
		version = "1.0"
	}
	sub := &models.FormSubmission{
		ID:          "sub_" + shortID(8),
		SessionID:   req.SessionID,
		FormType:    req.FormType,
		FormData:    req.FormData,
		Version:     version,
		SubmittedAt: s.now(),
	}
	out, err := s.store.CreateSubmission(sub)
	if err != nil {
		switch err {
		case ErrSessionNotFound:
			return nil, NewNotFoundError("session not found")
		case ErrSessionCompleted:
			return nil, NewInvalidError("session already completed")
		case ErrSessionExpired:
			return nil, NewInvalidError("session expired")
		case ErrDuplicateForm:
			return nil, NewConflictError("form type already submitted for this session")
		case ErrTaskLimit:
			return nil, NewConflictError("posttask submission limit reached")
		}
		return nil, err
	}
	s.notify(req.SessionID, models.NotifyFormSubmitted, models.JSONMap{"form_type": string(req.FormType)}, "")
	if out.CompletedNow {
		s.notify(req.SessionID, models.NotifySessionCompleted, nil, "")
	}
	return out, nil
}

// CreateNotification records a notification for a session, optionally
// delivering it to a webhook URL. Backs the /api/webhook endpoint.
func (s *SessionService) CreateNotification(sessionID string, ntype models.NotificationType, data models.JSONMap, webhookURL string) (*models.Notification, error) {
	if !ntype.Valid() {
		return nil, NewInvalidError("invalid notification_type")
	}
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, NewNotFoundError("session not found")
	}
	n := s.buildNotification(sessionID, ntype, data, webhookURL)
	if webhookURL != "" {
		s.deliver(n)
	}
	if err := s.store.AddNotification(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *SessionService) buildNotification(sessionID string, ntype models.NotificationType, data models.JSONMap, webhookURL string) *models.Notification {
	now := s.now()
	return &models.Notification{
		ID:         "ntf_" + shortID(8),
		SessionID:  sessionID,
		Type:       ntype,
		Status:     models.NotificationSent,
		Metadata:   data,
		WebhookURL: webhookURL,
		SentAt:     &now,
		CreatedAt:  now,
	}
}

// notify records an internal audit notification. Failures are logged only;
// notifications never block the main workflow.
func (s *SessionService) notify(sessionID string, ntype models.NotificationType, data models.JSONMap, webhookURL string) {
	n := s.buildNotification(sessionID, ntype, data, webhookURL)
	if err := s.store.AddNotification(n); err != nil {
		log.Printf("session service: record %s notification for %s: %v", ntype, sessionID, err)
	}
}

// deliver posts the notification payload to its webhook URL once. A failed
// delivery only flips the status; there is no scheduled retry.
func (s *SessionService) deliver(n *models.Notification) {
	if s.httpClient == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"session_id":        n.SessionID,
		"notification_type": n.Type,
		"data":              n.Metadata,
		"timestamp":         n.CreatedAt,
	})
	if err != nil {
		n.Status = models.NotificationFailed
		return
	}
	resp, err := s.httpClient.Post(n.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("session service: webhook delivery to %s: %v", n.WebhookURL, err)
		n.Status = models.NotificationFailed
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.Status = models.NotificationFailed
	}
}
