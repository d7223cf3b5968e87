package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	DatabaseURL     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Auth
	JWTSecret         string
	JWTIssuer         string
	CognitoRegion     string
	CognitoUserPoolID string
	CognitoClientID   string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling rules
	SchedulingBufferMinutes int
	DefaultDurationMinutes  int
	ProposalTTL             time.Duration
	ProposalLimitPerSide    int

	// External calendar
	CalendarTimeout               time.Duration
	CalendarCacheTTL              time.Duration
	GoogleCalendarCredentialsFile string
	GoogleCalendarEndpoint        string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventsQueueURL      string

	// Email
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	// Background workers
	OutboxDeliveryEnabled bool
	OutboxPollInterval    time.Duration
	ProposalSweepEnabled  bool
	ProposalSweepInterval time.Duration
	AuditQueueSize        int
}

// Load reads configuration from the environment.
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", ""),
		CognitoRegion:     getEnv("COGNITO_REGION", ""),
		CognitoUserPoolID: getEnv("COGNITO_USER_POOL_ID", ""),
		CognitoClientID:   getEnv("COGNITO_CLIENT_ID", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		SchedulingBufferMinutes: getEnvAsInt("SCHEDULING_BUFFER_MINUTES", 30),
		DefaultDurationMinutes:  getEnvAsInt("DEFAULT_DURATION_MINUTES", 60),
		ProposalTTL:             getEnvAsDuration("PROPOSAL_TTL", 48*time.Hour),
		ProposalLimitPerSide:    getEnvAsInt("PROPOSAL_LIMIT_PER_SIDE", 2),

		CalendarTimeout:               getEnvAsDuration("CALENDAR_TIMEOUT", 5*time.Second),
		CalendarCacheTTL:              getEnvAsDuration("CALENDAR_CACHE_TTL", 60*time.Second),
		GoogleCalendarCredentialsFile: getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
		GoogleCalendarEndpoint:        getEnv("GOOGLE_CALENDAR_ENDPOINT", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "Casework Scheduling"),

		OutboxDeliveryEnabled: getEnvAsBool("OUTBOX_DELIVERY_ENABLED", true),
		OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		ProposalSweepEnabled:  getEnvAsBool("PROPOSAL_SWEEP_ENABLED", true),
		ProposalSweepInterval: getEnvAsDuration("PROPOSAL_SWEEP_INTERVAL", 5*time.Minute),
		AuditQueueSize:        getEnvAsInt("AUDIT_QUEUE_SIZE", 256),
	}
}

// Validate reports settings the API cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" && (c.CognitoRegion == "" || c.CognitoUserPoolID == "") {
		errs = append(errs, errors.New("JWT_SECRET or COGNITO_REGION and COGNITO_USER_POOL_ID are required"))
	}
	switch c.EmailProvider {
	case "stub", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			errs = append(errs, errors.New("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid"))
		}
	default:
		errs = append(errs, errors.New("EMAIL_PROVIDER must be one of sendgrid, ses, stub"))
	}
	if c.SchedulingBufferMinutes < 0 || c.SchedulingBufferMinutes > 240 {
		errs = append(errs, errors.New("SCHEDULING_BUFFER_MINUTES must be between 0 and 240"))
	}
	if c.DefaultDurationMinutes <= 0 || c.DefaultDurationMinutes > 480 {
		errs = append(errs, errors.New("DEFAULT_DURATION_MINUTES must be between 1 and 480"))
	}
	if c.ProposalTTL <= 0 {
		errs = append(errs, errors.New("PROPOSAL_TTL must be positive"))
	}
	if c.ProposalLimitPerSide < 1 {
		errs = append(errs, errors.New("PROPOSAL_LIMIT_PER_SIDE must be at least 1"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
