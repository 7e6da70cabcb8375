package constants

import "time"

const (
	IdentityMinLength  = 3
	IdentityMaxLength  = 320
	PasswordMinLength  = 8
	PasswordMaxLength  = 128
	JWTSecretMinLength = 32

	DefaultMaxRequestSize = 1 << 20

	DBPoolMaxOpenConns    = 25
	DBPoolMinOpenConns    = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = 1 * time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = 1 * time.Second
	DBPoolMetricsInterval = 30 * time.Second
	DBQueryTimeout        = 30 * time.Second

	ServerReadHeaderTimeout = 10 * time.Second
	ServerReadTimeout       = 30 * time.Second
	ServerWriteTimeout      = 30 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	DefaultAuthHTTPPort = "8081"

	DefaultCircuitBreakerThreshold = 500
	DefaultCircuitBreakerTimeout   = 15 * time.Second
	DefaultCircuitBreakerReset     = 10 * time.Second

	DefaultAuthRequestTimeout = 10 * time.Second
	DefaultAccessTokenTTL     = 900 * time.Second
	DefaultRefreshTokenTTL    = 86400 * time.Second

	DefaultSessionStore   = "postgres"
	DefaultRedisURL       = "redis://127.0.0.1:6379/0"
	DefaultRedisKeyPrefix = "carai"
	RedisTxMaxRetries     = 5

	SessionCleanupInterval = 1 * time.Hour

	RefreshTokenCookieName = "refresh_token"
	RefreshTokenCookiePath = "/api/auth"
	TokenTypeBearer        = "Bearer"

	RateLimitCleanupInterval          = 5 * time.Minute
	RateLimitLoginRequestsPerSecond   = 1
	RateLimitLoginBurst               = 5
	RateLimitRefreshRequestsPerSecond = 2
	RateLimitRefreshBurst             = 10
	RateLimitLogoutRequestsPerSecond  = 2
	RateLimitLogoutBurst              = 10
	RateLimitRevokeRequestsPerSecond  = 1
	RateLimitRevokeBurst              = 5
	RateLimitGeneralRequestsPerSecond = 10
	RateLimitGeneralBurst             = 20

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
