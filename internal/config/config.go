// Package config loads the vote server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"Sutian/internal/core/votes"
)

// Realtime modes
const (
	RealtimePostgres  = "postgres"
	RealtimeWebsocket = "websocket"
	RealtimeOff       = "off"
)

// Config validation errors
var (
	// ErrMissingDatabaseURL is returned when DATABASE_URL is empty
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	// ErrMissingAuthKey is returned when neither JWT_SECRET nor JWKS_URL is set
	ErrMissingAuthKey = errors.New("JWT_SECRET or JWKS_URL is required")
	// ErrWeakJWTSecret is returned when JWT_SECRET is shorter than 32 bytes
	ErrWeakJWTSecret = errors.New("JWT_SECRET must be at least 32 bytes")
	// ErrInvalidRealtimeMode is returned for an unknown REALTIME_MODE
	ErrInvalidRealtimeMode = errors.New("REALTIME_MODE must be postgres, websocket or off")
	// ErrMissingRealtimeURL is returned when websocket mode has no REALTIME_WS_URL
	ErrMissingRealtimeURL = errors.New("REALTIME_WS_URL is required in websocket mode")
	// ErrInvalidRateLimit is returned when a rate limit is not positive
	ErrInvalidRateLimit = errors.New("rate limits must be positive")
)

// Config holds the vote server configuration
type Config struct {
	Port        string
	DatabaseURL string
	LogLevel    string
	LogFormat   string

	// Token verification. At least one of JWTSecret and JWKSURL is required.
	JWTSecret   string
	JWKSURL     string
	JWTIssuer   string
	JWTAudience string

	// RealtimeMode selects where remote vote changes come from
	RealtimeMode   string
	RealtimeWSURL  string
	RealtimeAPIKey string

	// AllowedOrigins is the CORS and websocket origin allowlist. Empty allows all.
	AllowedOrigins []string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// RateLimitRequests per RateLimitWindow applies to every request per client IP
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// VoteWritesPerMinute applies to vote writes per user
	VoteWritesPerMinute int

	// PreloadDefinitions is how many recent definitions to load into the
	// target cache at startup. 0 disables preloading.
	PreloadDefinitions int

	Votes votes.Config
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Default returns a Config with sensible default values
func Default() Config {
	return Config{
		Port:                "8080",
		LogLevel:            "info",
		LogFormat:           "json",
		JWTAudience:         "authenticated",
		RealtimeMode:        RealtimePostgres,
		DBMaxOpenConns:      25,
		DBMaxIdleConns:      5,
		DBConnMaxLifetime:   5 * time.Minute,
		RateLimitRequests:   100,
		RateLimitWindow:     time.Minute,
		VoteWritesPerMinute: 60,
		PreloadDefinitions:  5000,
		Votes:               votes.DefaultConfig(),
	}
}

// FromEnv creates a Config from environment variables.
// Uses defaults for any missing environment variables.
//
// Environment variables:
//   - PORT, DATABASE_URL, LOG_LEVEL (debug|info|warn|error), LOG_FORMAT (json|text)
//   - JWT_SECRET, JWKS_URL, JWT_ISSUER, JWT_AUDIENCE
//   - REALTIME_MODE (postgres|websocket|off), REALTIME_WS_URL, REALTIME_API_KEY
//   - CORS_ALLOWED_ORIGINS: comma separated origins
//   - DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS, DB_CONN_MAX_LIFETIME_SECONDS
//   - RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW_SECONDS, VOTE_WRITES_PER_MINUTE
//   - PRELOAD_DEFINITIONS
//   - VOTE_REMOTE_TIMEOUT_SECONDS, VOTE_LIMIT, VOTE_LIMIT_WINDOW_MINUTES,
//     VOTE_BREAKER_THRESHOLD, VOTE_BREAKER_COOLDOWN_SECONDS,
//     VOTE_TARGET_CACHE_SIZE, VOTE_AGGREGATE_REFRESH_PER_SECOND,
//     VOTE_USER_CACHE_TTL_SECONDS
func FromEnv() Config {
	cfg := Default()

	setString(&cfg.Port, "PORT")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWKSURL, "JWKS_URL")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.RealtimeMode, "REALTIME_MODE")
	setString(&cfg.RealtimeWSURL, "REALTIME_WS_URL")
	setString(&cfg.RealtimeAPIKey, "REALTIME_API_KEY")

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}

	setInt(&cfg.DBMaxOpenConns, "DB_MAX_OPEN_CONNS", 1)
	setInt(&cfg.DBMaxIdleConns, "DB_MAX_IDLE_CONNS", 0)
	setSeconds(&cfg.DBConnMaxLifetime, "DB_CONN_MAX_LIFETIME_SECONDS", time.Second)
	setInt(&cfg.RateLimitRequests, "RATE_LIMIT_REQUESTS", 1)
	setSeconds(&cfg.RateLimitWindow, "RATE_LIMIT_WINDOW_SECONDS", time.Second)
	setInt(&cfg.VoteWritesPerMinute, "VOTE_WRITES_PER_MINUTE", 1)
	setInt(&cfg.PreloadDefinitions, "PRELOAD_DEFINITIONS", 0)

	setSeconds(&cfg.Votes.RemoteTimeout, "VOTE_REMOTE_TIMEOUT_SECONDS", time.Second)
	setInt(&cfg.Votes.VoteLimit, "VOTE_LIMIT", 0)
	setSeconds(&cfg.Votes.VoteLimitWindow, "VOTE_LIMIT_WINDOW_MINUTES", time.Minute)
	setInt(&cfg.Votes.BreakerThreshold, "VOTE_BREAKER_THRESHOLD", 0)
	setSeconds(&cfg.Votes.BreakerCooldown, "VOTE_BREAKER_COOLDOWN_SECONDS", time.Second)
	setInt(&cfg.Votes.TargetCacheSize, "VOTE_TARGET_CACHE_SIZE", 1)
	setSeconds(&cfg.Votes.UserVotesTTL, "VOTE_USER_CACHE_TTL_SECONDS", time.Second)

	if v := os.Getenv("VOTE_AGGREGATE_REFRESH_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Votes.AggregateRefreshPerSecond = f
		} else {
			warnInvalid("VOTE_AGGREGATE_REFRESH_PER_SECOND", v, cfg.Votes.AggregateRefreshPerSecond, err)
		}
	}

	return cfg
}

// Validate checks the configuration for invalid values
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.JWTSecret == "" && c.JWKSURL == "" {
		return ErrMissingAuthKey
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: got %d", ErrWeakJWTSecret, len(c.JWTSecret))
	}

	switch c.RealtimeMode {
	case RealtimePostgres, RealtimeOff:
	case RealtimeWebsocket:
		if c.RealtimeWSURL == "" {
			return ErrMissingRealtimeURL
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidRealtimeMode, c.RealtimeMode)
	}

	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 || c.VoteWritesPerMinute <= 0 {
		return ErrInvalidRateLimit
	}

	if err := c.Votes.Validate(); err != nil {
		return fmt.Errorf("vote config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, minValue int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < minValue {
		warnInvalid(key, v, *dst, err)
		return
	}
	*dst = n
}

// setSeconds reads a positive integer count of unit
func setSeconds(dst *time.Duration, key string, unit time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		warnInvalid(key, v, dst.String(), err)
		return
	}
	*dst = time.Duration(n) * unit
}

func warnInvalid(key, value string, def any, err error) {
	slog.Warn("invalid config value, using default",
		"key", key,
		"value", value,
		"default", def,
		"error", err,
	)
}
