package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Port:                 "8080",
		DBPath:               "magicauth.db",
		BaseURL:              "http://localhost:8080",
		FromEmail:            "noreply@example.com",
		EmailSubject:         "Your login link",
		TokenDurationSeconds: 300,
		WaitSeconds:          3,
		SessionDurationHours: 720,
		LoggedInRedirectURL:  "/",
		IdentityField:        "email",
		LogLevel:             "info",
	}
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidateMissingFromEmail(t *testing.T) {
	cfg := validConfig()
	cfg.FromEmail = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing from email")
	}
}

func TestValidateBadTokenDuration(t *testing.T) {
	cfg := validConfig()
	cfg.TokenDurationSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero token duration")
	}
}

func TestValidateBadIdentityField(t *testing.T) {
	cfg := validConfig()
	cfg.IdentityField = "phone"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown identity field")
	}
	if !strings.Contains(err.Error(), "identity field") {
		t.Errorf("err = %v, want identity field complaint", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAGICAUTH_FROM_EMAIL", "login@example.com")
	t.Setenv("MAGICAUTH_TOKEN_DURATION_SECONDS", "120")
	t.Setenv("MAGICAUTH_ALLOWED_REDIRECT_HOSTS", "a.example.com,b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FromEmail != "login@example.com" {
		t.Errorf("from email = %q", cfg.FromEmail)
	}
	if cfg.TokenDurationSeconds != 120 {
		t.Errorf("token duration = %d, want 120", cfg.TokenDurationSeconds)
	}
	if len(cfg.AllowedRedirectHosts) != 2 {
		t.Errorf("allowed hosts = %v, want 2 entries", cfg.AllowedRedirectHosts)
	}
	if cfg.WaitSeconds != 3 {
		t.Errorf("wait seconds = %d, want default 3", cfg.WaitSeconds)
	}
}
