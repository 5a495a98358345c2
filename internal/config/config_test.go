package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"ENVIRONMENT",
		"LOG_LEVEL",
		"LISTEN_ADDR",
		"ISSUER",
		"JWT_SECRET",
		"DIRECTORY_FILE",
		"CODE_STORE",
		"STATE_PATH",
		"SQLITE_PATH",
		"CACHE_BACKEND",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"CODE_TTL",
		"ACCESS_TOKEN_TTL",
		"REFRESH_TOKEN_TTL",
		"PENDING_REQUEST_TTL",
		"CODE_RETENTION",
		"REQUIRE_PKCE",
		"ROTATE_REFRESH_TOKENS",
		"TOKEN_RATE_LIMIT",
		"TOKEN_RATE_BURST",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	// Keep a developer's .env out of the test.
	t.Chdir(t.TempDir())
}

// setRequiredEnv sets the minimum env vars for a valid config.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ISSUER", "https://auth.example.com/")
	t.Setenv("JWT_SECRET", "c2VjcmV0")
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", cfg.Issuer, "trailing slash trimmed")
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, CodeStoreMemory, cfg.CodeStore)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 10*time.Minute, cfg.CodeTTL)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 15*time.Minute, cfg.PendingRequestTTL)
	assert.Equal(t, 24*time.Hour, cfg.CodeRetention)
	assert.True(t, cfg.RequirePKCE)
	assert.True(t, cfg.RotateRefreshTokens)
	assert.InDelta(t, 5.0, cfg.TokenRateLimit, 0)
	assert.Equal(t, 10, cfg.TokenRateBurst)
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	setRequiredEnv(t)
	t.Setenv("CODE_STORE", " SQLite ")
	t.Setenv("SQLITE_PATH", "/tmp/codes.sqlite")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("ACCESS_TOKEN_TTL", "15m")
	t.Setenv("REQUIRE_PKCE", "false")
	t.Setenv("TOKEN_RATE_LIMIT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, CodeStoreSQLite, cfg.CodeStore)
	assert.Equal(t, "/tmp/codes.sqlite", cfg.SQLitePath)
	assert.Equal(t, CacheRedis, cfg.CacheBackend)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.False(t, cfg.RequirePKCE)
	assert.Zero(t, cfg.TokenRateLimit)
}

func TestLoad_DefaultStatePaths(t *testing.T) {
	clearConfigEnv(t)
	setRequiredEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	t.Setenv("CODE_STORE", "bolt")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".authcore", "state.db"), cfg.StatePath)

	t.Setenv("CODE_STORE", "sqlite")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".authcore", "authcore.sqlite"), cfg.SQLitePath)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing issuer", map[string]string{"ISSUER": ""}, "ISSUER is required"},
		{"issuer not a URL", map[string]string{"ISSUER": "auth.example.com"}, "ISSUER must be"},
		{"missing secret in production", map[string]string{"JWT_SECRET": "", "ENVIRONMENT": "production"}, "JWT_SECRET"},
		{"bad code store", map[string]string{"CODE_STORE": "postgres"}, "CODE_STORE"},
		{"bad cache backend", map[string]string{"CACHE_BACKEND": "memcached"}, "CACHE_BACKEND"},
		{"redis without addr", map[string]string{"CACHE_BACKEND": "redis", "REDIS_ADDR": ""}, "REDIS_ADDR"},
		{"zero code ttl", map[string]string{"CODE_TTL": "0s"}, "CODE_TTL"},
		{"negative retention", map[string]string{"CODE_RETENTION": "-1h"}, "CODE_RETENTION"},
		{"negative rate", map[string]string{"TOKEN_RATE_LIMIT": "-1"}, "TOKEN_RATE_LIMIT"},
		{"unparsable duration", map[string]string{"ACCESS_TOKEN_TTL": "soon"}, "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearConfigEnv(t)

	require.NoError(t, os.WriteFile(".env", []byte("ISSUER=http://localhost:8080\nJWT_SECRET=abc\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ISSUER")
		os.Unsetenv("JWT_SECRET")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Issuer)
	assert.False(t, cfg.SecureCookies())
}

func TestLoad_SecretOptionalOutsideProduction(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ISSUER", "http://localhost:8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.JWTSecret)
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}
