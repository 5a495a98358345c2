package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/authcore/internal/state"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Code store backends.
const (
	CodeStoreMemory = "memory"
	CodeStoreBolt   = "bolt"
	CodeStoreSQLite = "sqlite"
)

// Cache backends for the pending request store and the token blacklist.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all environment-based configuration for authcore.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// Issuer is the public base URL of the server. It is the iss claim of
	// every token and the iss parameter of authorization responses.
	Issuer string `env:"ISSUER"`

	// JWTSecret is the base64 encoded HS512 signing key, at least 64
	// bytes once decoded. Required in production.
	JWTSecret string `env:"JWT_SECRET"`

	// DirectoryFile is the YAML file of users, roles and clients.
	DirectoryFile string `env:"DIRECTORY_FILE" envDefault:"directory.yaml"`

	CodeStore  string `env:"CODE_STORE" envDefault:"memory"`
	StatePath  string `env:"STATE_PATH"`
	SQLitePath string `env:"SQLITE_PATH"`

	CacheBackend  string `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	CodeTTL           time.Duration `env:"CODE_TTL" envDefault:"10m"`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL   time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	PendingRequestTTL time.Duration `env:"PENDING_REQUEST_TTL" envDefault:"15m"`

	// CodeRetention is how long used and expired codes are kept before
	// the janitor purges them.
	CodeRetention time.Duration `env:"CODE_RETENTION" envDefault:"24h"`

	RequirePKCE         bool `env:"REQUIRE_PKCE" envDefault:"true"`
	RotateRefreshTokens bool `env:"ROTATE_REFRESH_TOKENS" envDefault:"true"`

	// TokenRateLimit is the sustained token endpoint requests per second
	// per client. Zero disables the limiter.
	TokenRateLimit float64 `env:"TOKEN_RATE_LIMIT" envDefault:"5"`
	TokenRateBurst int     `env:"TOKEN_RATE_BURST" envDefault:"10"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the signing key to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.CodeStore = strings.ToLower(strings.TrimSpace(cfg.CodeStore))
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.Issuer = strings.TrimRight(cfg.Issuer, "/")

	if cfg.CodeStore == CodeStoreBolt && cfg.StatePath == "" {
		cfg.StatePath = state.DefaultPath()
	}

	if cfg.CodeStore == CodeStoreSQLite && cfg.SQLitePath == "" {
		path, err := defaultDataPath("authcore.sqlite")
		if err != nil {
			return nil, err
		}

		cfg.SQLitePath = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("ISSUER is required")
	}

	if !strings.HasPrefix(c.Issuer, "https://") && !strings.HasPrefix(c.Issuer, "http://") {
		return fmt.Errorf("ISSUER must be an http or https URL")
	}

	// Outside production a missing key is replaced by an ephemeral one.
	if c.JWTSecret == "" && c.IsProduction() {
		return fmt.Errorf("JWT_SECRET is required in production (generate one with: authcore gen-secret)")
	}

	switch c.CodeStore {
	case CodeStoreMemory, CodeStoreBolt, CodeStoreSQLite:
	default:
		return fmt.Errorf("CODE_STORE must be one of memory, bolt or sqlite, got %q", c.CodeStore)
	}

	switch c.CacheBackend {
	case CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of memory or redis, got %q", c.CacheBackend)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"CODE_TTL", c.CodeTTL},
		{"ACCESS_TOKEN_TTL", c.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", c.RefreshTokenTTL},
		{"PENDING_REQUEST_TTL", c.PendingRequestTTL},
		{"CODE_RETENTION", c.CodeRetention},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	if c.TokenRateLimit < 0 {
		return fmt.Errorf("TOKEN_RATE_LIMIT must not be negative")
	}

	return nil
}

// defaultDataPath returns ~/.authcore/<name>.
func defaultDataPath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".authcore", name), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SecureCookies reports whether browser cookies must carry the Secure
// attribute.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.Issuer, "https://")
}
