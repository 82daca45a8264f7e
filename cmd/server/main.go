package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/clipdock/usability/internal/api"
	"github.com/clipdock/usability/internal/config"
	"github.com/clipdock/usability/internal/db"
	"github.com/clipdock/usability/internal/middleware"
	"github.com/clipdock/usability/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	commit := os.Getenv("USAB_COMMIT")
	buildTime := os.Getenv("USAB_BUILD_TIME")

	var store api.Store
	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		if err := db.RunMigrations(sqlDB.DB); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
		pg, err := db.NewPostgresStore(sqlDB)
		if err != nil {
			log.Fatalf("init store: %v", err)
		}
		store = pg
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store (data is lost on restart)")
		store = api.NewMemoryStore()
	}

	creds := services.AdminCredentials{Email: cfg.AdminEmail, PasswordHash: cfg.AdminPasswordHash}
	auth := services.NewAuthService(creds, middleware.SignAdminToken)

	mux := http.NewServeMux()
	api.NewRouter(store, auth, creds.Configured()).Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Usability Testing API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	// Wrap mux with CORS + security + no-store cache middleware
	handler := middleware.NoStore(middleware.SecureHeaders(middleware.CORS(mux)))

	log.Printf("usability server listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
