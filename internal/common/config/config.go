package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
)

const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

type AuthConfig struct {
	HTTPPort       string
	DatabaseURL    string
	JWTSecret      string
	JWTKeyID       string
	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration
	RequestTimeout time.Duration

	SessionStore   string
	RedisURL       string
	RedisKeyPrefix string

	CORSOrigins  []string
	CookieSecure bool

	// TrustedProxies lists CIDRs or addresses whose forwarding headers are
	// believed when resolving the client address.
	TrustedProxies []string

	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	CircuitBreakerReset     time.Duration

	SessionCleanupInterval time.Duration

	LogDir   string
	LogLevel string
}

func LoadAuthConfig() (AuthConfig, error) {
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return AuthConfig{}, err
	}

	if err := validateJWTSecret(jwtSecret); err != nil {
		return AuthConfig{}, err
	}

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return AuthConfig{}, err
	}

	cfg := AuthConfig{
		HTTPPort:       getEnv("AUTH_HTTP_PORT", constants.DefaultAuthHTTPPort),
		DatabaseURL:    databaseURL,
		JWTSecret:      jwtSecret,
		JWTKeyID:       getEnv("JWT_KEY_ID", ""),
		AccessTokenTTL: getDurationEnv("ACCESS_TOKEN_TTL", constants.DefaultAccessTokenTTL),
		RefreshTTL:     getDurationEnv("REFRESH_TOKEN_TTL", constants.DefaultRefreshTokenTTL),
		RequestTimeout: getDurationEnv("AUTH_REQUEST_TIMEOUT", constants.DefaultAuthRequestTimeout),

		SessionStore:   strings.ToLower(getEnv("SESSION_STORE", constants.DefaultSessionStore)),
		RedisURL:       getEnv("REDIS_URL", constants.DefaultRedisURL),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", constants.DefaultRedisKeyPrefix),

		CORSOrigins:  getListEnv("CORS_ORIGINS"),
		CookieSecure: getBoolEnv("COOKIE_SECURE", true),

		TrustedProxies: getListEnv("TRUSTED_PROXIES"),

		CircuitBreakerThreshold: getIntEnv("CIRCUIT_BREAKER_THRESHOLD", constants.DefaultCircuitBreakerThreshold),
		CircuitBreakerTimeout:   getDurationEnv("CIRCUIT_BREAKER_TIMEOUT", constants.DefaultCircuitBreakerTimeout),
		CircuitBreakerReset:     getDurationEnv("CIRCUIT_BREAKER_RESET", constants.DefaultCircuitBreakerReset),

		SessionCleanupInterval: getDurationEnv("SESSION_CLEANUP_INTERVAL", constants.SessionCleanupInterval),

		LogDir:   getEnv("LOG_DIR", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return AuthConfig{}, err
	}

	return cfg, nil
}

// MigrateConfig is what cmd/migrate needs; it does not require the JWT secret.
type MigrateConfig struct {
	DatabaseURL string
	LogDir      string
	LogLevel    string
}

func LoadMigrateConfig() (MigrateConfig, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return MigrateConfig{}, err
	}
	return MigrateConfig{
		DatabaseURL: databaseURL,
		LogDir:      getEnv("LOG_DIR", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}, nil
}

func (c AuthConfig) validate() error {
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("%w: ACCESS_TOKEN_TTL must be positive", commonerrors.ErrInvalidConfig)
	}
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: REFRESH_TOKEN_TTL must be positive", commonerrors.ErrInvalidConfig)
	}
	if c.RefreshTTL < c.AccessTokenTTL {
		return fmt.Errorf("%w: REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL", commonerrors.ErrInvalidConfig)
	}
	switch c.SessionStore {
	case SessionStorePostgres, SessionStoreRedis:
	default:
		return fmt.Errorf("%w: SESSION_STORE=%q", commonerrors.ErrInvalidConfig, c.SessionStore)
	}
	return nil
}

func validateJWTSecret(secret string) error {
	if len(secret) < constants.JWTSecretMinLength {
		return fmt.Errorf("%w: got %d bytes", commonerrors.ErrInvalidJWTSecret, len(secret))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func mustEnv(key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", commonerrors.ErrMissingRequiredEnv, key)
	}
	return v, nil
}

// getDurationEnv accepts Go durations ("15m") as well as bare seconds ("900").
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBoolEnv(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getListEnv(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
