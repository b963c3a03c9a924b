// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers accepted in B24BRIDGE_DB_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ClientID     string
	ClientSecret string
	// AppBaseURL is the public URL Bitrix24 calls back on install and events.
	AppBaseURL string
	// OAuthURL overrides the Bitrix24 OAuth token endpoint; empty uses the default.
	OAuthURL   string
	ListenAddr string

	DBDriver string
	DBPath   string
	DBDSN    string

	// APIKey guards the admin call API. Empty disables the check.
	APIKey string

	RateLimit   float64
	RateBurst   int
	HTTPTimeout time.Duration
	LogLevel    slog.Level
}

// Load reads configuration from environment variables and returns a validated Config.
// B24BRIDGE_CLIENT_ID and B24BRIDGE_CLIENT_SECRET are required; B24BRIDGE_DB_DSN is
// required when B24BRIDGE_DB_DRIVER is postgres.
// Optional variables with defaults: B24BRIDGE_LISTEN_ADDR (127.0.0.1:8080),
// B24BRIDGE_DB_DRIVER (sqlite), B24BRIDGE_DB_PATH (b24bridge.db), B24BRIDGE_RATE_LIMIT (2),
// B24BRIDGE_RATE_BURST (50), B24BRIDGE_HTTP_TIMEOUT (30s), B24BRIDGE_LOG_LEVEL (info).
func Load() (*Config, error) {
	cfg := &Config{
		ClientID:     strings.TrimSpace(os.Getenv("B24BRIDGE_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("B24BRIDGE_CLIENT_SECRET")),
		AppBaseURL:   strings.TrimSpace(os.Getenv("B24BRIDGE_APP_BASE_URL")),
		OAuthURL:     strings.TrimSpace(os.Getenv("B24BRIDGE_OAUTH_URL")),
		ListenAddr:   "127.0.0.1:8080",
		DBDriver:     DriverSQLite,
		DBPath:       "b24bridge.db",
		DBDSN:        os.Getenv("B24BRIDGE_DB_DSN"),
		APIKey:       os.Getenv("B24BRIDGE_API_KEY"),
		RateLimit:    2,
		RateBurst:    50,
		HTTPTimeout:  30 * time.Second,
		LogLevel:     slog.LevelInfo,
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("B24BRIDGE_CLIENT_ID and B24BRIDGE_CLIENT_SECRET are required")
	}

	if v, ok := os.LookupEnv("B24BRIDGE_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	if v, ok := os.LookupEnv("B24BRIDGE_DB_DRIVER"); ok && v != "" {
		cfg.DBDriver = strings.ToLower(strings.TrimSpace(v))
	}
	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DBDSN == "" {
			return nil, errors.New("B24BRIDGE_DB_DSN is required when B24BRIDGE_DB_DRIVER is postgres")
		}
	default:
		return nil, fmt.Errorf("B24BRIDGE_DB_DRIVER has unsupported value %q", cfg.DBDriver)
	}

	if v, ok := os.LookupEnv("B24BRIDGE_DB_PATH"); ok {
		cfg.DBPath = v
	}

	if v, ok := os.LookupEnv("B24BRIDGE_RATE_LIMIT"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("B24BRIDGE_RATE_LIMIT has invalid value %q", v)
		}
		cfg.RateLimit = parsed
	}

	if v, ok := os.LookupEnv("B24BRIDGE_RATE_BURST"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("B24BRIDGE_RATE_BURST has invalid value %q", v)
		}
		cfg.RateBurst = parsed
	}

	if v, ok := os.LookupEnv("B24BRIDGE_HTTP_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("B24BRIDGE_HTTP_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("B24BRIDGE_HTTP_TIMEOUT must be positive, got %s", parsed)
		}
		cfg.HTTPTimeout = parsed
	}

	if v, ok := os.LookupEnv("B24BRIDGE_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("B24BRIDGE_LOG_LEVEL has invalid value %q: %w", v, err)
		}
	}

	return cfg, nil
}
