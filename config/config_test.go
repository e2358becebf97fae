package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("MAX_RETRIES", "")
	cfg := Load()
	if cfg.DBDriver != DriverSQLite {
		t.Errorf("DBDriver: got %q, want %q", cfg.DBDriver, DriverSQLite)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay != time.Second {
		t.Errorf("RetryBaseDelay: got %v, want 1s", cfg.RetryBaseDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"1500ms", 1500 * time.Millisecond},
		{"250", 250 * time.Millisecond},
		{"soon", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.raw)
		got := getEnvDuration("TEST_DURATION", 5*time.Second)
		if got != tt.want {
			t.Errorf("getEnvDuration(%q) = %v; want %v", tt.raw, got, tt.want)
		}
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Load()
	cfg.DBDriver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestDSNPerDriver(t *testing.T) {
	cfg := Load()
	cfg.DBDriver = DriverSQLite
	cfg.DatabasePath = "/tmp/x.db"
	if got, want := cfg.DSN(), "file:/tmp/x.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"; got != want {
		t.Errorf("sqlite DSN: got %q, want %q", got, want)
	}

	cfg.DBDriver = DriverPostgres
	cfg.PostgresHost = "db"
	cfg.PostgresSSLMode = "disable"
	got := cfg.DSN()
	if got[:8] != "host=db " {
		t.Errorf("postgres DSN: got %q", got)
	}
}
