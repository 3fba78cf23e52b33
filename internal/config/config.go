package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"

	// MinJWTSecretLength is the smallest HMAC secret accepted at startup.
	MinJWTSecretLength = 32
)

type Config struct {
	ServerPort              string        `yaml:"server_port"`
	ServerReadHeaderTimeout time.Duration `yaml:"server_read_header_timeout"`
	ServerWriteTimeout      time.Duration `yaml:"server_write_timeout"`
	ServerIdleTimeout       time.Duration `yaml:"server_idle_timeout"`
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout          time.Duration `yaml:"request_timeout"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	UserStoreBackend    string `yaml:"user_store_backend"`
	RefreshStoreBackend string `yaml:"refresh_store_backend"`
	RedisAddr           string `yaml:"redis_addr"`
	RedisPassword       string `yaml:"redis_password"`
	RedisDB             int    `yaml:"redis_db"`

	JWTSecret     string        `yaml:"jwt_secret"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	JWTAccessTTL  time.Duration `yaml:"jwt_access_ttl"`
	JWTRefreshTTL time.Duration `yaml:"jwt_refresh_ttl"`
	BcryptCost    int           `yaml:"bcrypt_cost"`

	RefreshRotation      bool          `yaml:"refresh_rotation"`
	RefreshRecheckUser   bool          `yaml:"refresh_recheck_user"`
	RefreshCookieEnabled bool          `yaml:"refresh_cookie_enabled"`
	RefreshCookieName    string        `yaml:"refresh_cookie_name"`
	RefreshCookieSecure  bool          `yaml:"refresh_cookie_secure"`
	TokenSweepInterval   time.Duration `yaml:"token_sweep_interval"`

	CORSOrigins      []string `yaml:"cors_origins"`
	RateLimitRPM     int      `yaml:"rate_limit_rpm"`
	AuthRateLimitRPM int      `yaml:"auth_rate_limit_rpm"`

	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	SeedAdminEmail    string `yaml:"seed_admin_email"`
	SeedAdminPassword string `yaml:"seed_admin_password"`
}

func Default() *Config {
	return &Config{
		ServerPort:              "8080",
		ServerReadHeaderTimeout: 10 * time.Second,
		ServerWriteTimeout:      30 * time.Second,
		ServerIdleTimeout:       120 * time.Second,
		ShutdownTimeout:         10 * time.Second,
		RequestTimeout:          30 * time.Second,
		DBMaxConns:              10,
		DBMinConns:              1,
		UserStoreBackend:        StoreBackendPostgres,
		RefreshStoreBackend:     StoreBackendPostgres,
		RedisAddr:               "localhost:6379",
		JWTIssuer:               "go-session-service",
		JWTAccessTTL:            15 * time.Minute,
		JWTRefreshTTL:           168 * time.Hour,
		BcryptCost:              12,
		RefreshCookieName:       "refresh_token",
		RefreshCookieSecure:     true,
		TokenSweepInterval:      time.Hour,
		CORSOrigins:             []string{"*"},
		RateLimitRPM:            100,
		AuthRateLimitRPM:        10,
		LogLevel:                "info",
		LogFormat:               "pretty",
		MetricsEnabled:          true,
	}
}

// Load applies defaults, then CONFIG_FILE (YAML) when set, then the
// environment (including a local .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

func (c *Config) applyEnv() {
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ServerReadHeaderTimeout = getDuration("SERVER_READ_HEADER_TIMEOUT", c.ServerReadHeaderTimeout)
	c.ServerWriteTimeout = getDuration("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.ServerIdleTimeout = getDuration("SERVER_IDLE_TIMEOUT", c.ServerIdleTimeout)
	c.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.RequestTimeout = getDuration("REQUEST_TIMEOUT", c.RequestTimeout)

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.DBMaxConns = int32(getInt("DB_MAX_CONNS", int(c.DBMaxConns)))
	c.DBMinConns = int32(getInt("DB_MIN_CONNS", int(c.DBMinConns)))

	c.UserStoreBackend = strings.ToLower(getEnv("USER_STORE_BACKEND", c.UserStoreBackend))
	c.RefreshStoreBackend = strings.ToLower(getEnv("REFRESH_STORE_BACKEND", c.RefreshStoreBackend))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getInt("REDIS_DB", c.RedisDB)

	// The secret is not trimmed beyond surrounding whitespace; its length is checked in Validate.
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = getEnv("JWT_ISSUER", c.JWTIssuer)
	c.JWTAccessTTL = getDuration("JWT_ACCESS_TTL", c.JWTAccessTTL)
	c.JWTRefreshTTL = getDuration("JWT_REFRESH_TTL", c.JWTRefreshTTL)
	c.BcryptCost = getInt("BCRYPT_COST", c.BcryptCost)

	c.RefreshRotation = getBool("AUTH_REFRESH_ROTATION", c.RefreshRotation)
	c.RefreshRecheckUser = getBool("AUTH_REFRESH_RECHECK_USER", c.RefreshRecheckUser)
	c.RefreshCookieEnabled = getBool("AUTH_REFRESH_COOKIE", c.RefreshCookieEnabled)
	c.RefreshCookieName = getEnv("AUTH_REFRESH_COOKIE_NAME", c.RefreshCookieName)
	c.RefreshCookieSecure = getBool("AUTH_REFRESH_COOKIE_SECURE", c.RefreshCookieSecure)
	c.TokenSweepInterval = getDuration("TOKEN_SWEEP_INTERVAL", c.TokenSweepInterval)

	if raw := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); raw != "" {
		c.CORSOrigins = splitCSV(raw)
	}
	c.RateLimitRPM = getInt("RATE_LIMIT_RPM", c.RateLimitRPM)
	c.AuthRateLimitRPM = getInt("AUTH_RATE_LIMIT_RPM", c.AuthRateLimitRPM)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", c.LogFormat))
	c.MetricsEnabled = getBool("METRICS_ENABLED", c.MetricsEnabled)

	c.SeedAdminEmail = getEnv("SEED_ADMIN_EMAIL", c.SeedAdminEmail)
	c.SeedAdminPassword = getEnv("SEED_ADMIN_PASSWORD", c.SeedAdminPassword)
}

func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.JWTSecret)) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.JWTAccessTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL must be positive")
	}

	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}

	if c.BcryptCost < 8 || c.BcryptCost > 15 {
		return fmt.Errorf("BCRYPT_COST must be between 8 and 15")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.TokenSweepInterval < 0 {
		return fmt.Errorf("TOKEN_SWEEP_INTERVAL cannot be negative")
	}

	switch c.UserStoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("USER_STORE_BACKEND %q is not supported", c.UserStoreBackend)
	}

	switch c.RefreshStoreBackend {
	case StoreBackendPostgres, StoreBackendMemory:
	case StoreBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("REDIS_ADDR is required when REFRESH_STORE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("REFRESH_STORE_BACKEND %q is not supported", c.RefreshStoreBackend)
	}

	// refresh_tokens.user_id references users(id).
	if c.RefreshStoreBackend == StoreBackendPostgres && c.UserStoreBackend != StoreBackendPostgres {
		return fmt.Errorf("REFRESH_STORE_BACKEND postgres requires USER_STORE_BACKEND postgres")
	}

	if c.UsesPostgres() && strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store backend")
	}

	if c.RefreshCookieEnabled && strings.TrimSpace(c.RefreshCookieName) == "" {
		return fmt.Errorf("AUTH_REFRESH_COOKIE_NAME cannot be empty when cookies are enabled")
	}

	if c.LogFormat != "pretty" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be pretty or json")
	}

	return nil
}

func (c *Config) UsesPostgres() bool {
	return c.UserStoreBackend == StoreBackendPostgres || c.RefreshStoreBackend == StoreBackendPostgres
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
