package api

import "github.com/clipdock/usability/internal/services"

// Store is the full persistence surface the router needs. The Postgres
// implementation lives in internal/db; the in-memory implementation below
// backs handler tests and the no-database dev mode.
type Store interface {
	services.SessionStore
	services.ExportStore
}

var _ Store = (*memoryStore)(nil)
