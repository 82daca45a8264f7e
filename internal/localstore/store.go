// Package localstore is the participant-side session cache. It is the only
// authoritative store when the remote service is unreachable: every form
// page reads and writes here first, and remote sync never blocks it.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/clipdock/usability/internal/fault"
	"github.com/clipdock/usability/internal/models"
)

// Keys mirror the original browser-local layout: one JSON blob per session
// under a fixed prefix, plus one index blob listing all known IDs.
const (
	sessionKeyPrefix = "usab_session_"
	indexKey         = "usab_session_index"
)

// LocalSession is the per-device session record. RemoteID is filled in by
// the reconciler once the server acknowledges the session.
type LocalSession struct {
	ID            string               `json:"id"`
	RemoteID      string               `json:"remote_id,omitempty"`
	ParticipantID string               `json:"participant_id"`
	Status        models.SessionStatus `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	ExpiresAt     time.Time            `json:"expires_at"`
	Progress      models.Progress      `json:"progress"`
}

// Expired reports whether the session's validity window has passed.
func (s *LocalSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the cache file and sweeps expired sessions once.
// There is no background sweep; expiry is otherwise lazy on Get.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fault.NewInternalError("open local store", err)
	}
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)"); err != nil {
		_ = db.Close()
		return nil, fault.NewInternalError("init local store", err)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if removed, err := s.CleanExpired(); err != nil {
		log.Printf("local store: startup sweep: %v", err)
	} else if removed > 0 {
		log.Printf("local store: removed %d expired sessions", removed)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func newLocalID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("local_%d_%s", now.UnixMilli(), suffix)
}

// Create initializes a fresh session with empty progress and registers its
// ID in the index.
func (s *Store) Create(participantID string) (*LocalSession, error) {
	if strings.TrimSpace(participantID) == "" {
		return nil, fault.NewClientError("participant id required", nil)
	}
	now := s.now()
	sess := &LocalSession{
		ID:            newLocalID(now),
		ParticipantID: participantID,
		Status:        models.StatusInProgress,
		CreatedAt:     now,
		ExpiresAt:     now.Add(models.SessionTTL),
	}
	if err := s.put(sess); err != nil {
		return nil, err
	}
	if err := s.indexAdd(sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get resolves a session by ID. An expired record is deleted on the spot
// and reported as absent.
func (s *Store) Get(id string) (*LocalSession, error) {
	sess, err := s.load(id)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		if err := s.Remove(id); err != nil {
			log.Printf("local store: remove expired %s: %v", id, err)
		}
		return nil, nil
	}
	return sess, nil
}

// SaveFormData records one form's data on the session: pretest replaces the
// singleton field, posttask appends in call order, posttest parts set the
// named sub-field. Returns fault.ErrNotFound when the session is absent or
// expired, which callers must treat differently from storage errors.
func (s *Store) SaveFormData(id string, formType models.FormType, data models.JSONMap) (*LocalSession, error) {
	if !formType.Valid() {
		return nil, fault.NewClientError("invalid form type", nil)
	}
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fault.ErrNotFound
	}
	switch formType {
	case models.FormPretest:
		sess.Progress.Pretest = data
	case models.FormPostTask:
		if len(sess.Progress.PostTask) >= models.MaxPostTasks {
			return nil, fault.NewClientError("posttask limit reached", nil)
		}
		sess.Progress.PostTask = append(sess.Progress.PostTask, data)
	case models.FormPostTestSUS:
		sess.Progress.PostTest.SUS = data
	case models.FormPostTestNPS:
		sess.Progress.PostTest.NPS = data
	case models.FormPostTestFeedback:
		sess.Progress.PostTest.Feedback = data
	}
	if err := s.put(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Restore synthesizes a scaffold session under an ID that no longer has a
// local record, shaped exactly like a fresh session. When the ID looks like
// a server-generated UUID it is kept as the remote ID so submissions still
// reach the server-side record.
func (s *Store) Restore(id string) (*LocalSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fault.NewClientError("session id required", nil)
	}
	now := s.now()
	sess := &LocalSession{
		ID:        id,
		Status:    models.StatusInProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(models.SessionTTL),
	}
	if _, err := uuid.Parse(id); err == nil {
		sess.RemoteID = id
	}
	if err := s.put(sess); err != nil {
		return nil, err
	}
	if err := s.indexAdd(sess.ID); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetRemoteID caches the server-side session ID after a successful remote
// create so later submissions can be mirrored.
func (s *Store) SetRemoteID(id, remoteID string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fault.ErrNotFound
	}
	sess.RemoteID = remoteID
	return s.put(sess)
}

// Remove deletes the record and drops its ID from the index.
func (s *Store) Remove(id string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", sessionKeyPrefix+id); err != nil {
		return fault.NewInternalError("delete session", err)
	}
	return s.indexRemove(id)
}

// CleanExpired iterates the index once and removes every expired session.
func (s *Store) CleanExpired() (int, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for _, id := range ids {
		sess, err := s.load(id)
		if err != nil {
			return removed, err
		}
		if sess == nil {
			// index entry without a record; drop it
			if err := s.indexRemove(id); err != nil {
				return removed, err
			}
			continue
		}
		if sess.Expired(now) {
			if err := s.Remove(id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// ListIDs returns every session ID known to the index.
func (s *Store) ListIDs() ([]string, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", indexKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fault.NewInternalError("read session index", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fault.NewInternalError("decode session index", err)
	}
	return ids, nil
}

func (s *Store) load(id string) (*LocalSession, error) {
	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", sessionKeyPrefix+id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.NewInternalError("read session", err)
	}
	var sess LocalSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fault.NewInternalError("decode session", err)
	}
	return &sess, nil
}

func (s *Store) put(sess *LocalSession) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fault.NewInternalError("encode session", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		sessionKeyPrefix+sess.ID, string(raw))
	if err != nil {
		return fault.NewInternalError("persist session", err)
	}
	return nil
}

func (s *Store) indexAdd(id string) error {
	ids, err := s.ListIDs()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	return s.writeIndex(append(ids, id))
}

func (s *Store) indexRemove(id string) error {
	ids, err := s.ListIDs()
	if err != nil {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return s.writeIndex(out)
}

func (s *Store) writeIndex(ids []string) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return fault.NewInternalError("encode session index", err)
	}
	_, err = s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		indexKey, string(raw))
	if err != nil {
		return fault.NewInternalError("persist session index", err)
	}
	return nil
}
