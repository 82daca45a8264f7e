package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clipdock/usability/internal/api"
	"github.com/clipdock/usability/internal/fault"
	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/paginator"
	"github.com/clipdock/usability/internal/services"
)

const sessionColumns = "id, participant_id, status, metadata, created_at, expires_at, completed_at"

// PostgresStore is the authoritative store behind the HTTP service.
type PostgresStore struct {
	db    *sqlx.DB
	pager *paginator.Paginator[models.Session]
}

var _ api.Store = (*PostgresStore)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	return &PostgresStore{db: db, pager: paginator.New[models.Session](db)}, nil
}

func contextBg() context.Context { return context.Background() }

// mapPQError translates PostgreSQL error codes into storage fault sentinels.
func mapPQError(err error) error {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fault.ErrUniqueViolation
		case "23503":
			return fault.ErrForeignKeyViolation
		}
	}
	return err
}

func (s *PostgresStore) CreateSession(sess *models.Session) error {
	_, err := s.db.ExecContext(contextBg(),
		`INSERT INTO sessions (id, participant_id, status, metadata, created_at, expires_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.ParticipantID, sess.Status, sess.Metadata, sess.CreatedAt, sess.ExpiresAt, sess.CompletedAt)
	if err != nil {
		return mapPQError(err)
	}
	return nil
}

func (s *PostgresStore) GetSession(id string) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(contextBg(), &sess,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) GetSessionBundle(id string) (*services.SessionBundle, error) {
	sess, err := s.GetSession(id)
	if err != nil || sess == nil {
		return nil, err
	}
	subs := []*models.FormSubmission{}
	if err := s.db.SelectContext(contextBg(), &subs,
		`SELECT id, session_id, form_type, form_data, version, submitted_at
		 FROM form_submissions WHERE session_id = $1 ORDER BY submitted_at, id`, id); err != nil {
		return nil, err
	}
	notifs := []*models.Notification{}
	if err := s.db.SelectContext(contextBg(), &notifs,
		`SELECT id, session_id, notification_type, status, metadata, webhook_url, retry_count, sent_at, created_at
		 FROM notifications WHERE session_id = $1 ORDER BY created_at, id`, id); err != nil {
		return nil, err
	}
	return &services.SessionBundle{Session: sess, Submissions: subs, Notifications: notifs}, nil
}

func (s *PostgresStore) UpdateSessionStatus(id string, status models.SessionStatus, completedAt *time.Time) (*models.Session, error) {
	var sess models.Session
	err := s.db.GetContext(contextBg(), &sess,
		`UPDATE sessions SET status = $2, completed_at = COALESCE($3, completed_at)
		 WHERE id = $1 RETURNING `+sessionColumns, id, status, completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(f services.SessionFilter, page, limit int) ([]*models.Session, int, error) {
	query, args := sessionQuery(f, "DESC")
	res, err := s.pager.PaginateQuery(contextBg(), query, args, page, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*models.Session, 0, len(res.Items))
	for i := range res.Items {
		out = append(out, &res.Items[i])
	}
	return out, res.TotalItems, nil
}

func sessionQuery(f services.SessionFilter, order string) (string, []any) {
	query := "SELECT " + sessionColumns + " FROM sessions"
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ParticipantID != "" {
		add("participant_id ILIKE $%d", "%"+f.ParticipantID+"%")
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at " + order + ", id"
	return query, args
}

func (s *PostgresStore) SubmissionCounts(sessionIDs []string) (map[string]map[models.FormType]int, error) {
	out := map[string]map[models.FormType]int{}
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		SessionID string          `db:"session_id"`
		FormType  models.FormType `db:"form_type"`
		Count     int             `db:"count"`
	}
	err := s.db.SelectContext(contextBg(), &rows,
		`SELECT session_id, form_type, COUNT(*) AS count
		 FROM form_submissions WHERE session_id = ANY($1)
		 GROUP BY session_id, form_type`, pq.Array(sessionIDs))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if out[row.SessionID] == nil {
			out[row.SessionID] = map[models.FormType]int{}
		}
		out[row.SessionID][row.FormType] = row.Count
	}
	return out, nil
}

// CreateSubmission inserts a submission and, when the session now has every
// required form type, flips it to completed. The row lock on the session
// serializes concurrent submissions so the duplicate caps hold.
func (s *PostgresStore) CreateSubmission(sub *models.FormSubmission) (*services.SubmitOutcome, error) {
	ctx := contextBg()
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var sess models.Session
	err = tx.GetContext(ctx, &sess,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1 FOR UPDATE", sub.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		err = services.ErrSessionNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if sess.Status == models.StatusCompleted {
		err = services.ErrSessionCompleted
		return nil, err
	}
	if sess.Expired(time.Now().UTC()) {
		err = services.ErrSessionExpired
		return nil, err
	}

	var count int
	if err = tx.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM form_submissions WHERE session_id = $1 AND form_type = $2",
		sub.SessionID, sub.FormType); err != nil {
		return nil, err
	}
	if sub.FormType.Singleton() && count > 0 {
		err = services.ErrDuplicateForm
		return nil, err
	}
	if sub.FormType == models.FormPostTask && count >= models.MaxPostTasks {
		err = services.ErrTaskLimit
		return nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO form_submissions (id, session_id, form_type, form_data, version, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.SessionID, sub.FormType, sub.FormData, sub.Version, sub.SubmittedAt); err != nil {
		err = mapPQError(err)
		return nil, err
	}

	var present []models.FormType
	if err = tx.SelectContext(ctx, &present,
		"SELECT DISTINCT form_type FROM form_submissions WHERE session_id = $1", sub.SessionID); err != nil {
		return nil, err
	}
	completedNow := hasAllTypes(present)
	if completedNow {
		sess.Status = models.StatusCompleted
		t := sub.SubmittedAt
		sess.CompletedAt = &t
		if _, err = tx.ExecContext(ctx,
			"UPDATE sessions SET status = $2, completed_at = $3 WHERE id = $1",
			sess.ID, sess.Status, sess.CompletedAt); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &services.SubmitOutcome{Submission: sub, Session: &sess, CompletedNow: completedNow}, nil
}

func hasAllTypes(present []models.FormType) bool {
	seen := map[models.FormType]bool{}
	for _, t := range present {
		seen[t] = true
	}
	for _, t := range models.RequiredFormTypes {
		if !seen[t] {
			return false
		}
	}
	return true
}

func (s *PostgresStore) AddNotification(n *models.Notification) error {
	_, err := s.db.ExecContext(contextBg(),
		`INSERT INTO notifications (id, session_id, notification_type, status, metadata, webhook_url, retry_count, sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.SessionID, n.Type, n.Status, n.Metadata, n.WebhookURL, n.RetryCount, n.SentAt, n.CreatedAt)
	if err != nil {
		return mapPQError(err)
	}
	return nil
}

// ExportSessions loads every matching session with its dependent rows, in
// creation order, without a pagination cap.
func (s *PostgresStore) ExportSessions(f services.SessionFilter) ([]*services.SessionBundle, error) {
	ctx := contextBg()
	query, args := sessionQuery(f, "ASC")
	sessions := []*models.Session{}
	if err := s.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return []*services.SessionBundle{}, nil
	}
	ids := make([]string, 0, len(sessions))
	byID := map[string]*services.SessionBundle{}
	out := make([]*services.SessionBundle, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
		b := &services.SessionBundle{Session: sess, Submissions: []*models.FormSubmission{}, Notifications: []*models.Notification{}}
		byID[sess.ID] = b
		out = append(out, b)
	}

	subs := []*models.FormSubmission{}
	if err := s.db.SelectContext(ctx, &subs,
		`SELECT id, session_id, form_type, form_data, version, submitted_at
		 FROM form_submissions WHERE session_id = ANY($1) ORDER BY submitted_at, id`, pq.Array(ids)); err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if b := byID[sub.SessionID]; b != nil {
			b.Submissions = append(b.Submissions, sub)
		}
	}

	notifs := []*models.Notification{}
	if err := s.db.SelectContext(ctx, &notifs,
		`SELECT id, session_id, notification_type, status, metadata, webhook_url, retry_count, sent_at, created_at
		 FROM notifications WHERE session_id = ANY($1) ORDER BY created_at, id`, pq.Array(ids)); err != nil {
		return nil, err
	}
	for _, n := range notifs {
		if b := byID[n.SessionID]; b != nil {
			b.Notifications = append(b.Notifications, n)
		}
	}
	return out, nil
}
