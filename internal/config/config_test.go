package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := Default()
	cfg.JWTSecret = testSecret
	cfg.UserStoreBackend = StoreBackendMemory
	cfg.RefreshStoreBackend = StoreBackendMemory
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"short secret":               func(c *Config) { c.JWTSecret = "too-short" },
		"zero access ttl":            func(c *Config) { c.JWTAccessTTL = 0 },
		"refresh not longer":         func(c *Config) { c.JWTRefreshTTL = c.JWTAccessTTL },
		"bcrypt cost too low":        func(c *Config) { c.BcryptCost = 4 },
		"bcrypt cost too high":       func(c *Config) { c.BcryptCost = 16 },
		"unknown refresh backend":    func(c *Config) { c.RefreshStoreBackend = "etcd" },
		"redis user backend":         func(c *Config) { c.UserStoreBackend = StoreBackendRedis },
		"redis without address":      func(c *Config) { c.RefreshStoreBackend = StoreBackendRedis; c.RedisAddr = "" },
		"postgres without url":       func(c *Config) { c.UserStoreBackend = StoreBackendPostgres },
		"postgres refresh with memory users": func(c *Config) {
			c.RefreshStoreBackend = StoreBackendPostgres
			c.DatabaseURL = "postgres://localhost/sessions"
		},
		"negative sweep interval":    func(c *Config) { c.TokenSweepInterval = -time.Second },
		"cookie without name":        func(c *Config) { c.RefreshCookieEnabled = true; c.RefreshCookieName = "" },
		"unknown log format":         func(c *Config) { c.LogFormat = "xml" },
		"non-positive req timeout":   func(c *Config) { c.RequestTimeout = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
jwt_secret: "` + testSecret + `"
jwt_access_ttl: 5m
jwt_refresh_ttl: 24h
user_store_backend: memory
refresh_store_backend: memory
refresh_rotation: true
cors_origins:
  - https://a.example
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_ACCESS_TTL", "10m")
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("CORS_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 10*time.Minute, cfg.JWTAccessTTL)
	require.Equal(t, 24*time.Hour, cfg.JWTRefreshTTL)
	require.Equal(t, 10, cfg.BcryptCost)
	require.True(t, cfg.RefreshRotation)
	require.False(t, cfg.RefreshRecheckUser)
	require.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.CORSOrigins)
	require.Equal(t, StoreBackendMemory, cfg.RefreshStoreBackend)
}

func TestDefaultsSweepExpiredTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Hour, Default().TokenSweepInterval)

	cfg := validConfig()
	cfg.TokenSweepInterval = 0
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("USER_STORE_BACKEND", StoreBackendMemory)
	t.Setenv("REFRESH_STORE_BACKEND", StoreBackendMemory)

	_, err := Load()
	require.Error(t, err)
}

func TestEnvHelpersFallBackOnGarbage(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	t.Setenv("TEST_BOOL", "maybe")
	t.Setenv("TEST_DURATION", "soon")

	require.Equal(t, 7, getInt("TEST_INT", 7))
	require.True(t, getBool("TEST_BOOL", true))
	require.Equal(t, time.Second, getDuration("TEST_DURATION", time.Second))
	require.Empty(t, splitCSV(" , "))
}
