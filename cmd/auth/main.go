package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	authcleanup "github.com/AlibekovAA/carai-auth/internal/auth/cleanup"
	authhttp "github.com/AlibekovAA/carai-auth/internal/auth/http"
	authrepo "github.com/AlibekovAA/carai-auth/internal/auth/repository"
	"github.com/AlibekovAA/carai-auth/internal/auth/service"
	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	"github.com/AlibekovAA/carai-auth/internal/common/config"
	commoncrypto "github.com/AlibekovAA/carai-auth/internal/common/crypto"
	"github.com/AlibekovAA/carai-auth/internal/common/db"
	commonhttp "github.com/AlibekovAA/carai-auth/internal/common/http"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	srv "github.com/AlibekovAA/carai-auth/internal/common/server"
	"github.com/AlibekovAA/carai-auth/internal/token"
	userrepo "github.com/AlibekovAA/carai-auth/internal/user/repository"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_DIR"), "auth", os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAuthConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, log, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	healthChecks := map[string]commonhttp.HealthCheck{
		"database": func(ctx context.Context) error { return pool.Ping(ctx) },
	}

	var sessions authrepo.SessionRepository
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to parse redis url: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		healthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		sessions = authrepo.NewRedisSessionRepository(client, cfg.RedisKeyPrefix)
	default:
		sessions = authrepo.NewPgSessionRepository(pool, log)
	}
	log.WithFields(ctx, logger.Fields{
		"store":  cfg.SessionStore,
		"action": "session_store_selected",
	}).Info("session store initialized")

	clk := clock.NewRealClock()
	tokens := token.NewManager(token.Config{
		Secret: []byte(cfg.JWTSecret),
		KeyID:  cfg.JWTKeyID,
	}, commoncrypto.NewUUIDGenerator())
	passwords := commoncrypto.NewMultiVerifier(
		commoncrypto.NewArgon2Hasher(commoncrypto.DefaultArgon2Params()),
		&commoncrypto.BcryptHasher{},
	)

	authService := service.NewAuthService(
		userrepo.NewPgRepository(pool),
		sessions,
		passwords,
		commoncrypto.NewUUIDGenerator(),
		tokens,
		clk,
		service.Config{
			AccessTokenTTL:          cfg.AccessTokenTTL,
			RefreshTokenTTL:         cfg.RefreshTTL,
			CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
			CircuitBreakerTimeout:   cfg.CircuitBreakerTimeout,
			CircuitBreakerReset:     cfg.CircuitBreakerReset,
		},
		log,
	)

	sweeper := authcleanup.NewSweeper(sessions, clk, cfg.SessionCleanupInterval, log)
	go sweeper.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", authhttp.NewHandler(authService, tokens, clk, cfg, log))
	mux.Handle("/health", commonhttp.HealthHandler(log, healthChecks))
	mux.Handle("/metrics", promhttp.Handler())

	clientIPs, err := commonhttp.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid TRUSTED_PROXIES: %v", err)
	}
	rateLimiter := commonhttp.NewStrictRateLimiter(clientIPs)
	rateLimiter.StartCleanup(ctx)

	baseHandler := commonhttp.BuildBaseHandler("auth", log, cfg.CORSOrigins, mux)

	rateLimitMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if path == "/health" || path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			rateLimiter.MiddlewareForPath(path)(next).ServeHTTP(w, r)
		})
	}

	server := srv.NewServer(srv.DefaultServerConfig(cfg.HTTPPort), rateLimitMiddleware(baseHandler))

	shutdownHooks := []srv.ShutdownHook{
		func(ctx context.Context) error {
			log.Infof("auth service: stopping background workers")
			cancel()
			return nil
		},
	}

	if err := srv.StartWithGracefulShutdownAndHooks(server, log, "auth", shutdownHooks); err != nil {
		log.Errorf("auth service exited: %v", err)
		os.Exit(1)
	}
}
