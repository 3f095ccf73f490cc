package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.CatalogPath != "./config/survey.yaml" {
		t.Errorf("Expected default catalogue path, got %s", cfg.CatalogPath)
	}
	if cfg.StorageTimeout != 5*time.Second {
		t.Errorf("Expected default storage timeout 5s, got %s", cfg.StorageTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected default 3 retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_TIMEOUT", "2s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.StorageTimeout != 2*time.Second {
		t.Errorf("Expected storage timeout 2s, got %s", cfg.StorageTimeout)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Expected 5 retry attempts, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("STORAGE_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected fallback to 3 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.StorageTimeout != 5*time.Second {
		t.Errorf("Expected fallback to 5s, got %s", cfg.StorageTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Port:           "8080",
		DBPath:         "./data/test.db",
		CatalogPath:    "./config/survey.yaml",
		StorageTimeout: time.Second,
		Retry:          RetryConfig{MaxAttempts: 3},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	cfg.CatalogPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty catalogue path")
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://survey.example.com", false},
	}
	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.frontendURL}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.frontendURL, got, tt.want)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	dev := &Config{FrontendURL: ""}
	if got := dev.AllowedOrigins(); len(got) != 1 || got[0] != "*" {
		t.Errorf("Expected wildcard origins in dev, got %v", got)
	}

	prod := &Config{FrontendURL: "https://survey.example.com"}
	if got := prod.AllowedOrigins(); len(got) != 1 || got[0] != "https://survey.example.com" {
		t.Errorf("Expected frontend origin in prod, got %v", got)
	}
}
