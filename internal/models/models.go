package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SessionTTL is the fixed validity window of a participant session.
const SessionTTL = 48 * time.Hour

// MaxPostTasks is the number of moderated tasks in one study run.
const MaxPostTasks = 6

type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

type FormType string

const (
	FormPretest          FormType = "pretest"
	FormPostTask         FormType = "posttask"
	FormPostTestSUS      FormType = "posttest-sus"
	FormPostTestNPS      FormType = "posttest-nps"
	FormPostTestFeedback FormType = "posttest-feedback"
)

// RequiredFormTypes lists every form type a completed session must have at
// least one submission for, in questionnaire order.
var RequiredFormTypes = []FormType{
	FormPretest,
	FormPostTask,
	FormPostTestSUS,
	FormPostTestNPS,
	FormPostTestFeedback,
}

func (f FormType) Valid() bool {
	for _, t := range RequiredFormTypes {
		if f == t {
			return true
		}
	}
	return false
}

// Singleton reports whether a session may hold at most one submission of
// this type. Posttask is the only repeating type.
func (f FormType) Singleton() bool { return f != FormPostTask }

type NotificationType string

const (
	NotifySessionCreated   NotificationType = "session_created"
	NotifyFormSubmitted    NotificationType = "form_submitted"
	NotifySessionCompleted NotificationType = "session_completed"
	NotifySessionAbandoned NotificationType = "session_abandoned"
)

func (n NotificationType) Valid() bool {
	switch n {
	case NotifySessionCreated, NotifyFormSubmitted, NotifySessionCompleted, NotifySessionAbandoned:
		return true
	}
	return false
}

type NotificationStatus string

const (
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationPending NotificationStatus = "pending"
)

// JSONMap is a free-form JSON object stored in a jsonb column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonmap: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

type Session struct {
	ID            string        `db:"id" json:"id"`
	ParticipantID string        `db:"participant_id" json:"participant_id"`
	Status        SessionStatus `db:"status" json:"status"`
	Metadata      JSONMap       `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time     `db:"expires_at" json:"expires_at"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// Expired reports whether the session's validity window has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type FormSubmission struct {
	ID          string    `db:"id" json:"id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	FormType    FormType  `db:"form_type" json:"form_type"`
	FormData    JSONMap   `db:"form_data" json:"form_data"`
	Version     string    `db:"version" json:"version,omitempty"`
	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`
}

type Notification struct {
	ID         string             `db:"id" json:"id"`
	SessionID  string             `db:"session_id" json:"session_id"`
	Type       NotificationType   `db:"notification_type" json:"notification_type"`
	Status     NotificationStatus `db:"status" json:"status"`
	Metadata   JSONMap            `db:"metadata" json:"metadata,omitempty"`
	WebhookURL string             `db:"webhook_url" json:"webhook_url,omitempty"`
	RetryCount int                `db:"retry_count" json:"retry_count"`
	SentAt     *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}

// Progress is the nested questionnaire state carried by a local session.
type Progress struct {
	Pretest  JSONMap          `json:"pretest,omitempty"`
	PostTask []JSONMap        `json:"posttask,omitempty"`
	PostTest PostTestProgress `json:"posttest"`
}

// PostTestProgress holds the three independently nullable post-test parts.
type PostTestProgress struct {
	SUS      JSONMap `json:"sus,omitempty"`
	NPS      JSONMap `json:"nps,omitempty"`
	Feedback JSONMap `json:"feedback,omitempty"`
}
