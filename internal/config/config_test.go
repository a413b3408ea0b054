package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.LockTimeout != 5*time.Second || cfg.AccountNumberRetries != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReconcileSchedule != "@every 10m" {
		t.Fatalf("unexpected schedule %q", cfg.ReconcileSchedule)
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		t.Fatalf("expected development secrets")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PORT", ":9090")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("ACCOUNT_NUMBER_RETRIES", "3")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if cfg.LockTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.LockTimeout)
	}
	if cfg.AccountNumberRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", cfg.AccountNumberRetries)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lowered log level, got %s", cfg.LogLevel)
	}
}

func TestLoadRequiresBackendsOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected missing keys in error, got %v", err)
	}
}

func TestLoadRejectsNonPositiveRetries(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ACCOUNT_NUMBER_RETRIES", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero retries")
	}
}
