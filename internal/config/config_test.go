package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLocal() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voip"},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Telnyx: TelnyxConfig{APIKey: "KEY"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENV is required")
	assert.Contains(t, err.Error(), "TELNYX_API_KEY is required")
}

func TestValidate_ProductionRequiresSSLModeAndOrigins(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_SSLMODE")
	assert.Contains(t, err.Error(), "CORS_ALLOWED_ORIGINS")
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	require.NoError(t, c.Validate())

	assert.Equal(t, "disable", c.DB.SSLMode)
	assert.Equal(t, defaultTelnyxBaseURL, c.Telnyx.BaseURL)
	assert.Equal(t, 10*time.Second, c.Telnyx.Timeout)
	assert.Equal(t, 30*time.Second, c.Push.PingInterval)
	assert.Equal(t, defaultDedupTTL, c.Webhook.DedupTTL)
	assert.False(t, c.RedisEnabled())
}

func TestValidate_RedisPortCheckedOnlyWhenHostSet(t *testing.T) {
	c := validLocal()
	c.Redis.Host = "localhost"
	require.Error(t, c.Validate())

	c.Redis.Port = 6379
	require.NoError(t, c.Validate())
	assert.True(t, c.RedisEnabled())
	assert.Equal(t, "localhost:6379", c.RedisAddr())
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "voip")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("TELNYX_API_KEY", "k")
	t.Setenv("TELNYX_TIMEOUT", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173, https://app.example.com")
	t.Setenv("REDIS_HOST", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.HTTPAddr())
	assert.Equal(t, 3*time.Second, c.Telnyx.Timeout)
	assert.Equal(t, []string{"http://localhost:5173", "https://app.example.com"}, c.App.CORSAllowedOrigins)
	assert.True(t, c.IsDevelopment())
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("PUSH_PING_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PUSH_PING_INTERVAL")
}
