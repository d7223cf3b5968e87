package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "SCHEDULING_BUFFER_MINUTES", "PROPOSAL_TTL", "EMAIL_PROVIDER", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SchedulingBufferMinutes != 30 {
		t.Fatalf("expected default buffer 30, got %d", cfg.SchedulingBufferMinutes)
	}
	if cfg.ProposalTTL != 48*time.Hour {
		t.Fatalf("expected default proposal ttl 48h, got %s", cfg.ProposalTTL)
	}
	if cfg.ProposalLimitPerSide != 2 {
		t.Fatalf("expected default limit 2, got %d", cfg.ProposalLimitPerSide)
	}
	if cfg.CalendarTimeout != 5*time.Second {
		t.Fatalf("expected default calendar timeout 5s, got %s", cfg.CalendarTimeout)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider, got %s", cfg.EmailProvider)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("expected no CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("SCHEDULING_BUFFER_MINUTES", "15")
	t.Setenv("PROPOSAL_TTL", "24h")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.example.com, ,https://staff.example.com")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	t.Setenv("PROPOSAL_SWEEP_ENABLED", "false")
	cfg := Load()
	if cfg.Port != "9090" || !cfg.IsProduction() {
		t.Fatalf("unexpected port/env: %s %s", cfg.Port, cfg.Env)
	}
	if cfg.SchedulingBufferMinutes != 15 {
		t.Fatalf("expected buffer override, got %d", cfg.SchedulingBufferMinutes)
	}
	if cfg.ProposalTTL != 24*time.Hour {
		t.Fatalf("expected ttl override, got %s", cfg.ProposalTTL)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rps override, got %v", cfg.RateLimitRPS)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://staff.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalised provider, got %q", cfg.EmailProvider)
	}
	if cfg.ProposalSweepEnabled {
		t.Fatalf("expected sweep disabled")
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("PROPOSAL_LIMIT_PER_SIDE", "two")
	t.Setenv("CALENDAR_TIMEOUT", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.ProposalLimitPerSide != 2 || cfg.CalendarTimeout != 5*time.Second || cfg.RedisTLS {
		t.Fatalf("expected defaults for malformed values: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:             "postgres://localhost/casework",
			JWTSecret:               "secret",
			EmailProvider:           "stub",
			SchedulingBufferMinutes: 30,
			DefaultDurationMinutes:  60,
			ProposalTTL:             48 * time.Hour,
			ProposalLimitPerSide:    2,
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing auth", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"sendgrid without key", func(c *Config) { c.EmailProvider = "sendgrid" }, "SENDGRID_API_KEY"},
		{"unknown provider", func(c *Config) { c.EmailProvider = "smtp" }, "EMAIL_PROVIDER"},
		{"buffer too large", func(c *Config) { c.SchedulingBufferMinutes = 500 }, "SCHEDULING_BUFFER_MINUTES"},
		{"zero ttl", func(c *Config) { c.ProposalTTL = 0 }, "PROPOSAL_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}

	cognito := valid()
	cognito.JWTSecret = ""
	cognito.CognitoRegion = "us-east-1"
	cognito.CognitoUserPoolID = "pool"
	if err := cognito.Validate(); err != nil {
		t.Fatalf("expected cognito-only auth to be valid, got %v", err)
	}
}
