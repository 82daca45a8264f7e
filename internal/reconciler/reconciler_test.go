package reconciler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipdock/usability/internal/api"
	"github.com/clipdock/usability/internal/client"
	"github.com/clipdock/usability/internal/localstore"
	"github.com/clipdock/usability/internal/middleware"
	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/services"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	auth := services.NewAuthService(services.AdminCredentials{}, middleware.SignAdminToken)
	mux := http.NewServeMux()
	api.NewRouter(api.NewMemoryStore(), auth, false).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openTestStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// waitFor polls until cond passes or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSyncCreateCachesRemoteID(t *testing.T) {
	backend := newBackend(t)
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := New(ctx, store, client.New(backend.URL))
	facade := NewFacade(store, rec)

	sess, err := facade.Create("P1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "remote id", func() bool {
		got, err := store.Get(sess.ID)
		return err == nil && got != nil && got.RemoteID != ""
	})

	got, _ := store.Get(sess.ID)
	remote, err := client.New(backend.URL).GetSession(context.Background(), got.RemoteID)
	if err != nil {
		t.Fatalf("remote lookup: %v", err)
	}
	if remote.Session.ParticipantID != "P1" {
		t.Fatalf("remote participant = %q", remote.Session.ParticipantID)
	}
	if remote.Session.Metadata["local_id"] != sess.ID {
		t.Fatalf("remote metadata = %v", remote.Session.Metadata)
	}
}

func TestSyncFormDataMirrorsSubmission(t *testing.T) {
	backend := newBackend(t)
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := New(ctx, store, client.New(backend.URL))
	facade := NewFacade(store, rec)

	sess, err := facade.Create("P1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, "remote id", func() bool {
		got, err := store.Get(sess.ID)
		return err == nil && got != nil && got.RemoteID != ""
	})

	if _, err := facade.SaveFormData(sess.ID, models.FormPretest, models.JSONMap{"age": "25-34"}); err != nil {
		t.Fatalf("save form: %v", err)
	}

	remote := client.New(backend.URL)
	got, _ := store.Get(sess.ID)
	waitFor(t, "mirrored submission", func() bool {
		bundle, err := remote.GetSession(context.Background(), got.RemoteID)
		return err == nil && len(bundle.Submissions) == 1
	})
}

// An unreachable server must never surface an error on the local write path.
func TestLocalWritesSurviveDeadServer(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := New(ctx, store, client.New("http://127.0.0.1:1"))
	rec.retries = 1
	rec.delay = time.Millisecond
	facade := NewFacade(store, rec)

	sess, err := facade.Create("P1")
	if err != nil {
		t.Fatalf("create with dead server: %v", err)
	}
	if _, err := facade.SaveFormData(sess.ID, models.FormPretest, models.JSONMap{"age": "25-34"}); err != nil {
		t.Fatalf("save with dead server: %v", err)
	}

	got, err := facade.Get(sess.ID)
	if err != nil || got == nil {
		t.Fatalf("get = (%+v, %v)", got, err)
	}
	if got.Progress.Pretest == nil || got.RemoteID != "" {
		t.Fatalf("local record wrong: %+v", got)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	rec.Shutdown(shutdownCtx)
}
