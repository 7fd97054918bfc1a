package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// Logging Configuration
	Logging LoggingConfig

	// Server Configuration
	Server ServerConfig

	// Session cookie/token configuration
	Session SessionConfig

	// Magic link (email sign-in) configuration
	MagicLink MagicLinkConfig

	// OAuth providers
	Google   OAuthProviderConfig
	LinkedIn OAuthProviderConfig

	// Passkey tenant verifier
	Passkey PasskeyConfig

	// Transactional email
	Email EmailConfig

	// Analytics sink
	Analytics AnalyticsConfig

	// Worker maintenance
	Worker WorkerConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	BaseURL    string // public base URL, used to build callback links
	Production bool   // true for the production deployment
}

// SessionConfig holds session token and cookie configuration.
// The production deployment uses a __Secure- prefixed cookie scoped to the
// apex domain; every other environment uses the bare name with no domain.
type SessionConfig struct {
	CookieName   string
	CookieDomain string
	Secure       bool
	TTL          time.Duration
}

// MagicLinkConfig controls the email sign-in link lifecycle
type MagicLinkConfig struct {
	TTL time.Duration
}

// OAuthProviderConfig holds one OAuth provider's client credentials
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
}

// PasskeyConfig holds the external tenant-scoped passkey verifier settings
type PasskeyConfig struct {
	TenantURL string
	APIKey    string
}

// EmailConfig holds transactional email (Resend) configuration
type EmailConfig struct {
	ResendAPIKey string
	From         string
}

// AnalyticsConfig holds the analytics sink (PostHog) configuration
type AnalyticsConfig struct {
	PostHogAPIKey string
	Endpoint      string
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	// Cron expression for pruning expired verification tokens and auth states
	PruneSchedule string
}

// ProviderTimeout bounds every outbound verification call (token exchange,
// userinfo fetch, passkey tenant verify). A slow provider becomes a request
// failure, never a hang.
const ProviderTimeout = 10 * time.Second

const (
	productionCookieName = "__Secure-doctrack.session-token"
	defaultCookieName    = "doctrack.session-token"
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	production := os.Getenv("DEPLOYMENT_ENV") == "production"

	cookieName := os.Getenv("SESSION_COOKIE_NAME")
	if cookieName == "" {
		if production {
			cookieName = productionCookieName
		} else {
			cookieName = defaultCookieName
		}
	}

	// Cookie domain scoping only applies in production
	cookieDomain := ""
	if production {
		cookieDomain = getEnv("SESSION_COOKIE_DOMAIN", ".doctrack.io")
	}

	return &Config{
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", "doctrack.sqlite"),
		},
		Redis: RedisConfig{
			Address: getEnv("REDIS_ADDRESS", "localhost:6379"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Server: ServerConfig{
			BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),
			Production: production,
		},
		Session: SessionConfig{
			CookieName:   cookieName,
			CookieDomain: cookieDomain,
			Secure:       production,
			TTL:          getDuration("SESSION_TTL", 30*24*time.Hour),
		},
		MagicLink: MagicLinkConfig{
			TTL: getDuration("MAGIC_LINK_TTL", 15*time.Minute),
		},
		Google: OAuthProviderConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		},
		LinkedIn: OAuthProviderConfig{
			ClientID:     os.Getenv("LINKEDIN_CLIENT_ID"),
			ClientSecret: os.Getenv("LINKEDIN_CLIENT_SECRET"),
		},
		Passkey: PasskeyConfig{
			TenantURL: os.Getenv("HANKO_TENANT_URL"),
			APIKey:    os.Getenv("HANKO_API_KEY"),
		},
		Email: EmailConfig{
			ResendAPIKey: os.Getenv("RESEND_API_KEY"),
			From:         getEnv("EMAIL_FROM", "onboarding@resend.dev"),
		},
		Analytics: AnalyticsConfig{
			PostHogAPIKey: os.Getenv("POSTHOG_API_KEY"),
			Endpoint:      getEnv("POSTHOG_ENDPOINT", "https://us.i.posthog.com"),
		},
		Worker: WorkerConfig{
			PruneSchedule: getEnv("PRUNE_SCHEDULE", "0 * * * *"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
