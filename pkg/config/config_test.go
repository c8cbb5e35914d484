package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 10*time.Second, cfg.Transitions.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Capacity.CacheTTL)
	assert.True(t, cfg.Notifications.Enabled)
	assert.Equal(t, 3, cfg.Notifications.MaxRetries)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TRANSITION_TIMEOUT", "3s")
	t.Setenv("CAPACITY_CACHE_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://admin.example.com, ,https://ops.example.com")
	t.Setenv("NOTIFICATIONS_LINK_BASE_URL", "https://app.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.Transitions.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Capacity.CacheTTL)
	assert.Equal(t, []string{"https://admin.example.com", "https://ops.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "https://app.example.com", cfg.Notifications.LinkBaseURL)
}
