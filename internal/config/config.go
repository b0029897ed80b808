// Package config holds the immutable process configuration, parsed
// from the environment once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port   string `env:"MAGICAUTH_PORT" envDefault:"8080"`
	DBPath string `env:"MAGICAUTH_DB_PATH" envDefault:"magicauth.db"`

	// BaseURL is the public origin used to build emailed links.
	BaseURL string `env:"MAGICAUTH_BASE_URL" envDefault:"http://localhost:8080"`

	FromEmail     string `env:"MAGICAUTH_FROM_EMAIL"`
	PostmarkToken string `env:"MAGICAUTH_POSTMARK_TOKEN"`
	EmailSubject  string `env:"MAGICAUTH_EMAIL_SUBJECT" envDefault:"Your login link"`

	TokenDurationSeconds int `env:"MAGICAUTH_TOKEN_DURATION_SECONDS" envDefault:"300"`
	WaitSeconds          int `env:"MAGICAUTH_WAIT_SECONDS" envDefault:"3"`
	SessionDurationHours int `env:"MAGICAUTH_SESSION_DURATION_HOURS" envDefault:"720"`

	LoggedInRedirectURL  string   `env:"MAGICAUTH_LOGGED_IN_REDIRECT_URL" envDefault:"/"`
	AllowedRedirectHosts []string `env:"MAGICAUTH_ALLOWED_REDIRECT_HOSTS"`
	RedirectRequireHTTPS bool     `env:"MAGICAUTH_REDIRECT_REQUIRE_HTTPS" envDefault:"true"`

	// IdentityField is the user attribute the email form matches
	// against: "email" or "username".
	IdentityField string `env:"MAGICAUTH_IDENTITY_FIELD" envDefault:"email"`

	OTPEnabled bool `env:"MAGICAUTH_OTP_ENABLED" envDefault:"false"`

	// AuthBackend picks the session backend when several are
	// registered. Leaving it empty is only valid with one backend.
	AuthBackend string `env:"MAGICAUTH_AUTH_BACKEND"`

	LogLevel string `env:"MAGICAUTH_LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.FromEmail == "" {
		return fmt.Errorf("MAGICAUTH_FROM_EMAIL is required")
	}
	if c.TokenDurationSeconds <= 0 {
		return fmt.Errorf("token duration must be positive, got %d", c.TokenDurationSeconds)
	}
	if c.WaitSeconds < 0 {
		return fmt.Errorf("wait seconds must not be negative, got %d", c.WaitSeconds)
	}
	if c.SessionDurationHours <= 0 {
		return fmt.Errorf("session duration must be positive, got %d", c.SessionDurationHours)
	}
	if c.IdentityField != "email" && c.IdentityField != "username" {
		return fmt.Errorf("identity field must be email or username, got %q", c.IdentityField)
	}
	return nil
}

func (c *Config) TokenDuration() time.Duration {
	return time.Duration(c.TokenDurationSeconds) * time.Second
}

func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionDurationHours) * time.Hour
}
