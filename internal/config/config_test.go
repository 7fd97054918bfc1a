package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearAuthEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEPLOYMENT_ENV",
		"SESSION_COOKIE_NAME",
		"SESSION_COOKIE_DOMAIN",
		"SESSION_TTL",
		"MAGIC_LINK_TTL",
		"DATABASE_URL",
		"REDIS_ADDRESS",
		"BASE_URL",
		"EMAIL_FROM",
		"PRUNE_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAuthEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "doctrack.sqlite", cfg.Database.URL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.False(t, cfg.Server.Production)
	assert.Equal(t, 30*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 15*time.Minute, cfg.MagicLink.TTL)
	assert.Equal(t, "onboarding@resend.dev", cfg.Email.From)
	assert.Equal(t, "0 * * * *", cfg.Worker.PruneSchedule)
}

func TestLoadDevelopmentCookie(t *testing.T) {
	clearAuthEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "doctrack.session-token", cfg.Session.CookieName)
	assert.Empty(t, cfg.Session.CookieDomain)
	assert.False(t, cfg.Session.Secure)
}

func TestLoadProductionCookie(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("DEPLOYMENT_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "__Secure-doctrack.session-token", cfg.Session.CookieName)
	assert.Equal(t, ".doctrack.io", cfg.Session.CookieDomain)
	assert.True(t, cfg.Session.Secure)
	assert.True(t, cfg.Server.Production)
}

func TestLoadCookieOverrides(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("DEPLOYMENT_ENV", "production")
	t.Setenv("SESSION_COOKIE_NAME", "__Secure-staging.session-token")
	t.Setenv("SESSION_COOKIE_DOMAIN", ".staging.doctrack.io")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "__Secure-staging.session-token", cfg.Session.CookieName)
	assert.Equal(t, ".staging.doctrack.io", cfg.Session.CookieDomain)
}

func TestLoadDurationOverrides(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("MAGIC_LINK_TTL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5*time.Minute, cfg.MagicLink.TTL)
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv("SESSION_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*24*time.Hour, cfg.Session.TTL)
}
