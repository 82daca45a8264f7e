package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clipdock/usability/internal/utils"
)

// Config holds the service configuration. Values come from an optional YAML
// file first, then environment variables override field by field.
type Config struct {
	// Server listen address
	Addr string `yaml:"addr"`
	// PostgreSQL connection string; empty selects the in-memory dev store
	DatabaseURL string `yaml:"database_url"`
	// Path of the participant-side SQLite cache (usabctl flow)
	LocalStorePath string `yaml:"local_store_path"`
	// Remote API base URL for the participant-side tools
	APIBaseURL string `yaml:"api_base_url"`
	// Admin account for the reporting endpoints; empty disables auth
	AdminEmail        string `yaml:"admin_email"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// Load reads .env (if present), the YAML config file (USAB_CONFIG or
// ./usability.yaml), then environment overrides.
func Load() (*Config, error) {
	// ignore error if no .env exists
	_ = godotenv.Load()

	cfg := &Config{
		Addr:           ":8080",
		LocalStorePath: "usability-local.db",
		APIBaseURL:     "http://localhost:8080",
	}

	path := os.Getenv("USAB_CONFIG")
	if path == "" {
		path = "usability.yaml"
	}
	if err := loadFile(cfg, path); err != nil {
		return nil, err
	}

	cfg.Addr = utils.SafeEnv("USAB_ADDR", cfg.Addr)
	cfg.DatabaseURL = utils.SafeEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LocalStorePath = utils.SafeEnv("USAB_LOCAL_STORE", cfg.LocalStorePath)
	cfg.APIBaseURL = utils.SafeEnv("USAB_API_BASE_URL", cfg.APIBaseURL)
	cfg.AdminEmail = utils.SafeEnv("USAB_ADMIN_EMAIL", cfg.AdminEmail)
	cfg.AdminPasswordHash = utils.SafeEnv("USAB_ADMIN_PASSWORD_HASH", cfg.AdminPasswordHash)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// AdminConfigured reports whether the reporting endpoints are guarded.
func (c *Config) AdminConfigured() bool {
	return c.AdminEmail != "" && c.AdminPasswordHash != ""
}
