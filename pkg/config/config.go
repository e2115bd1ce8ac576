// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds everything the server binary needs. Zero values mean the
// matching feature is off.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects Postgres when it starts with postgres://; any
	// other value is treated as a SQLite path (lite mode).
	DatabaseURL string
	RedisURL    string

	WebhookURL    string
	WebhookSecret string

	BootstrapAPIKey  string
	SessionSecretKey string
	AuthDisabled     bool

	AdminEmail    string
	AdminPassword string
	AdminName     string

	// Environment gates the production-only behaviors: https-only
	// webhooks and no wildcard CORS.
	Environment      string
	CORSOrigins      []string
	CORSAllowMethods []string
	RateLimitEnabled bool

	GitSyncPath string
}

// Production reports whether the deployment environment is production.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LiteMode reports whether the store runs on SQLite instead of Postgres.
func (c *Config) LiteMode() bool {
	return !strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Load reads the environment. It never fails; Validate reports what a
// server start would reject.
func Load() *Config {
	return &Config{
		Port:     envDefault("PORT", "8080"),
		LogLevel: envDefault("LOG_LEVEL", "info"),

		DatabaseURL: envDefault("DATABASE_URL", "tessera.db"),
		RedisURL:    os.Getenv("REDIS_URL"),

		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		BootstrapAPIKey:  os.Getenv("BOOTSTRAP_API_KEY"),
		SessionSecretKey: os.Getenv("SESSION_SECRET_KEY"),
		AuthDisabled:     envBool("AUTH_DISABLED"),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     envDefault("ADMIN_NAME", "Admin"),

		Environment:      envDefault("ENVIRONMENT", "development"),
		CORSOrigins:      envList("CORS_ORIGINS"),
		CORSAllowMethods: envList("CORS_ALLOW_METHODS"),
		RateLimitEnabled: envBool("RATE_LIMIT_ENABLED"),

		GitSyncPath: os.Getenv("GIT_SYNC_PATH"),
	}
}

// Validate rejects configurations that cannot serve safely.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Production() {
		if c.AuthDisabled {
			return fmt.Errorf("AUTH_DISABLED is not permitted in production")
		}
		if c.SessionSecretKey == "" && c.BootstrapAPIKey == "" {
			return fmt.Errorf("production requires SESSION_SECRET_KEY or BOOTSTRAP_API_KEY")
		}
	}
	if c.AdminEmail != "" && c.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}
	return nil
}
