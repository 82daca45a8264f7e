package api

import (
	"net/http"

	"github.com/clipdock/usability/internal/middleware"
	"github.com/clipdock/usability/internal/services"
)

type Router struct {
	sessions *services.SessionService
	export   *services.ExportService
	auth     *services.AuthService
	// guards the reporting endpoints when an admin account is configured
	adminAuth bool
}

func NewRouter(store Store, auth *services.AuthService, adminAuth bool) *Router {
	return &Router{
		sessions:  services.NewSessionService(store),
		export:    services.NewExportService(store),
		auth:      auth,
		adminAuth: adminAuth,
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", rt.handleSessions)      // POST create, GET list
	mux.HandleFunc("/api/sessions/", rt.handleSessionByID)  // GET, PATCH /api/sessions/{id}
	mux.HandleFunc("/api/submit", rt.handleSubmit)          // POST
	mux.HandleFunc("/api/export", rt.handleExport)          // GET
	mux.HandleFunc("/api/webhook", rt.handleWebhook)        // POST record, GET docs
	mux.HandleFunc("/api/admin/login", rt.handleAdminLogin) // POST
}

func (rt *Router) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.createSession(w, r)
	case http.MethodGet:
		middleware.RequireAdmin(rt.adminAuth, rt.listSessions)(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	middleware.RequireAdmin(rt.adminAuth, rt.exportSessions)(w, r)
}

func (rt *Router) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
