package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configKeys = []string{
	"PORT", "ENVIRONMENT", "DATABASE_PATH", "JWT_SECRET", "JWT_ISSUER", "WEBHOOK_SECRET", "CORS_ORIGINS",
	"LOCALE", "LOG_LEVEL", "LOG_JSON", "REDIS_ADDR", "REDIS_CHANNEL", "VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY",
	"VAPID_SUBSCRIBER", "STATS_CRON", "WS_EVENTS_PER_SECOND", "WS_EVENT_BURST", "SHUTDOWN_TIMEOUT",
}

func unsetConfigEnv(t *testing.T, extra ...string) {
	t.Helper()
	for _, key := range append(configKeys, extra...) {
		_ = os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	return path
}

func TestLoadReadsExplicitEnvFile(t *testing.T) {
	unsetConfigEnv(t)
	t.Cleanup(func() { unsetConfigEnv(t) })

	envPath := writeEnvFile(t, t.TempDir(), `
PORT=9090
ENVIRONMENT=production
DATABASE_PATH=/var/lib/goftgu/goftgu.db
JWT_SECRET=super-secret
JWT_ISSUER=https://id.example.com
WEBHOOK_SECRET=hook-secret
CORS_ORIGINS=https://example.com
LOCALE=fa
LOG_JSON=true
REDIS_ADDR=localhost:6379
VAPID_PUBLIC_KEY=pub
VAPID_PRIVATE_KEY=priv
STATS_CRON="*/5 * * * *"
WS_EVENTS_PER_SECOND=2.5
SHUTDOWN_TIMEOUT=3s
`)
	t.Setenv(EnvFileVar, envPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "9090" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "9090")
	}
	if !cfg.IsProduction() {
		t.Fatalf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.DatabasePath != "/var/lib/goftgu/goftgu.db" {
		t.Fatalf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.JWTSecret != "super-secret" {
		t.Fatalf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "https://id.example.com" {
		t.Fatalf("JWTIssuer = %q", cfg.JWTIssuer)
	}
	if cfg.WebhookSecret != "hook-secret" {
		t.Fatalf("WebhookSecret = %q", cfg.WebhookSecret)
	}
	if cfg.CORSOrigins != "https://example.com" {
		t.Fatalf("CORSOrigins = %q", cfg.CORSOrigins)
	}
	if cfg.Locale != "fa" {
		t.Fatalf("Locale = %q", cfg.Locale)
	}
	if !cfg.LogJSON {
		t.Fatalf("LogJSON = false, want true")
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.VAPIDPublicKey != "pub" || cfg.VAPIDPrivateKey != "priv" {
		t.Fatalf("VAPID keys = %q/%q", cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	}
	if cfg.StatsCron != "*/5 * * * *" {
		t.Fatalf("StatsCron = %q", cfg.StatsCron)
	}
	if cfg.WSEventsPerSecond != 2.5 {
		t.Fatalf("WSEventsPerSecond = %v", cfg.WSEventsPerSecond)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
}

func TestLoadEnvVarOverridesEnvFile(t *testing.T) {
	unsetConfigEnv(t)
	t.Cleanup(func() { unsetConfigEnv(t) })

	envPath := writeEnvFile(t, t.TempDir(), `
PORT=9090
DATABASE_PATH=/var/lib/goftgu/goftgu.db
JWT_SECRET=file-secret
`)
	t.Setenv(EnvFileVar, envPath)
	t.Setenv("DATABASE_PATH", "/override.db")
	t.Setenv("PORT", "7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "7777" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "7777")
	}
	if cfg.DatabasePath != "/override.db" {
		t.Fatalf("DatabasePath = %q, want %q", cfg.DatabasePath, "/override.db")
	}
	if cfg.JWTSecret != "file-secret" {
		t.Fatalf("JWTSecret = %q", cfg.JWTSecret)
	}
}

func TestLoadFallsBackToDefaultsWhenNoEnvFile(t *testing.T) {
	unsetConfigEnv(t, EnvFileVar)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DatabasePath != "./data/goftgu.db" {
		t.Fatalf("DatabasePath = %q, want default", cfg.DatabasePath)
	}
	if cfg.RedisChannel != "goftgu-events" {
		t.Fatalf("RedisChannel = %q, want default", cfg.RedisChannel)
	}
	if cfg.WSEventBurst != 20 {
		t.Fatalf("WSEventBurst = %d, want 20", cfg.WSEventBurst)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadMissingEnvFileFails(t *testing.T) {
	unsetConfigEnv(t)
	t.Setenv(EnvFileVar, filepath.Join(t.TempDir(), "missing.env"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
