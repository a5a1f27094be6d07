package config

import "testing"

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("BRIMIR_DB_DSN", "")
	t.Setenv("BRIMIR_JWT_SIGNING_KEY", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when BRIMIR_DB_DSN is empty")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRIMIR_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BRIMIR_DB_BACKEND", "sqlite")
	t.Setenv("BRIMIR_JWT_SIGNING_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AverageServiceMinutes != 45 {
		t.Errorf("AverageServiceMinutes = %d, want 45", cfg.AverageServiceMinutes)
	}
	if cfg.LongWaitMinutes != 120 {
		t.Errorf("LongWaitMinutes = %d, want 120", cfg.LongWaitMinutes)
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("BRIMIR_DB_DSN", "dsn")
	t.Setenv("BRIMIR_DB_BACKEND", "oracle")
	t.Setenv("BRIMIR_JWT_SIGNING_KEY", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
