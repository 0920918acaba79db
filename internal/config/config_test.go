package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.ClinicTimezone != "America/Sao_Paulo" {
		t.Errorf("ClinicTimezone = %q", cfg.ClinicTimezone)
	}
	if cfg.CalendarID != "primary" {
		t.Errorf("CalendarID = %q, want primary", cfg.CalendarID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("WORKER_COUNT", "5")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("GATEWAY_BASE_URL", "https://gw.example.com/")

	cfg := Load()

	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want 2h", cfg.SessionTTL)
	}
	if cfg.WorkerCount != 5 {
		t.Errorf("WorkerCount = %d, want 5", cfg.WorkerCount)
	}
	if !cfg.UseMemoryQueue {
		t.Error("UseMemoryQueue should be true")
	}
	if cfg.GatewayBaseURL != "https://gw.example.com" {
		t.Errorf("GatewayBaseURL = %q, trailing slash should be stripped", cfg.GatewayBaseURL)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_TTL", "soon")
	t.Setenv("WORKER_COUNT", "many")

	cfg := Load()

	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want default on parse failure", cfg.SessionTTL)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want default on parse failure", cfg.WorkerCount)
	}
}
