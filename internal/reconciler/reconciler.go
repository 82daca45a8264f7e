// Package reconciler mirrors local session mutations to the remote service.
// Every sync is fire-and-forget: the local write has already succeeded by
// the time a job runs, remote failures are logged and swallowed, and a
// local record is never rolled back because the server could not be
// reached.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/clipdock/usability/internal/client"
	"github.com/clipdock/usability/internal/localstore"
	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/workerpool"
)

const (
	defaultRetries = 3
	defaultDelay   = 500 * time.Millisecond
)

type Reconciler struct {
	store   *localstore.Store
	api     *client.Client
	pool    *workerpool.WorkerPool
	retries int
	delay   time.Duration
}

func New(ctx context.Context, store *localstore.Store, api *client.Client) *Reconciler {
	return &Reconciler{
		store:   store,
		api:     api,
		pool:    workerpool.New(ctx, 2, 64),
		retries: defaultRetries,
		delay:   defaultDelay,
	}
}

// SyncCreate mirrors a locally created session. On success the remote ID is
// cached on the local record so later submissions can be mirrored too.
func (r *Reconciler) SyncCreate(sess *localstore.LocalSession) {
	localID := sess.ID
	participantID := sess.ParticipantID
	r.pool.Submit(workerpool.WithRetry(r.retries, r.delay, func() error {
		remote, err := r.api.CreateSession(context.Background(), participantID, models.JSONMap{"local_id": localID})
		if err != nil {
			if permanent(err) {
				log.Printf("reconciler: create for %s rejected: %v", localID, err)
				return nil
			}
			return err
		}
		if err := r.store.SetRemoteID(localID, remote.ID); err != nil {
			// local record may have expired in the meantime
			log.Printf("reconciler: cache remote id for %s: %v", localID, err)
		}
		return nil
	}))
}

// SyncFormData mirrors one saved form. If the remote session was never
// created (create sync failed for good) the submission is skipped silently
// and the local record remains the only copy.
func (r *Reconciler) SyncFormData(localID string, formType models.FormType, data models.JSONMap) {
	r.pool.Submit(workerpool.WithRetry(r.retries, r.delay, func() error {
		sess, err := r.store.Get(localID)
		if err != nil || sess == nil {
			return nil
		}
		if sess.RemoteID == "" {
			return nil
		}
		_, err = r.api.Submit(context.Background(), sess.RemoteID, formType, data, "")
		if err != nil {
			if permanent(err) {
				log.Printf("reconciler: submit %s for %s rejected: %v", formType, localID, err)
				return nil
			}
			return err
		}
		return nil
	}))
}

// Shutdown drains in-flight sync jobs, bounded by ctx.
func (r *Reconciler) Shutdown(ctx context.Context) {
	r.pool.Shutdown(ctx)
}

// permanent reports whether a remote error cannot succeed on retry
// (validation rejections, duplicates, missing sessions).
func permanent(err error) bool {
	if ae, ok := err.(*client.APIError); ok {
		return ae.Status >= 400 && ae.Status < 500 && ae.Status != 429
	}
	return false
}

// Facade is the single entry point form pages use. Its contract is
// deliberately asymmetric: local writes are synchronous and authoritative,
// remote mirroring is fire-and-forget and its failures are never surfaced.
type Facade struct {
	local *localstore.Store
	rec   *Reconciler
}

func NewFacade(local *localstore.Store, rec *Reconciler) *Facade {
	return &Facade{local: local, rec: rec}
}

func (f *Facade) Create(participantID string) (*localstore.LocalSession, error) {
	sess, err := f.local.Create(participantID)
	if err != nil {
		return nil, err
	}
	f.rec.SyncCreate(sess)
	return sess, nil
}

func (f *Facade) Get(id string) (*localstore.LocalSession, error) {
	return f.local.Get(id)
}

func (f *Facade) SaveFormData(id string, formType models.FormType, data models.JSONMap) (*localstore.LocalSession, error) {
	sess, err := f.local.SaveFormData(id, formType, data)
	if err != nil {
		return nil, err
	}
	f.rec.SyncFormData(id, formType, data)
	return sess, nil
}

// Restore recreates a scaffold for a known ID whose local record is gone.
// No remote create is fired; the ID may already exist server-side.
func (f *Facade) Restore(id string) (*localstore.LocalSession, error) {
	return f.local.Restore(id)
}

func (f *Facade) Remove(id string) error {
	return f.local.Remove(id)
}
