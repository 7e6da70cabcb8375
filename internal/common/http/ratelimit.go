package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	"github.com/AlibekovAA/carai-auth/internal/common/httpmetrics"
	"github.com/AlibekovAA/carai-auth/internal/observability/metrics"
)

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	clients  *ClientIPResolver
}

// NewRateLimiter keys buckets by client address as resolved by clients; a
// nil resolver keys by the direct peer.
func NewRateLimiter(requestsPerSecond float64, burst int, clients *ClientIPResolver) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		clients:  clients,
	}
}

// prune drops limiters whose bucket has refilled, i.e. idle clients.
func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, limiter := range rl.limiters {
		if limiter.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

func (rl *RateLimiter) Middleware(limiterType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(rl.clients.ClientIP(r)) {
				metrics.RateLimitBlocked.WithLabelValues(httpmetrics.NormalizePath(r.URL.Path), limiterType).Inc()
				WriteErrorEnvelope(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", nil, TraceIDFromContext(r.Context()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// StrictRateLimiter keeps one limiter per auth endpoint so a flood of login
// attempts does not starve refreshes.
type StrictRateLimiter struct {
	loginLimiter   *RateLimiter
	refreshLimiter *RateLimiter
	logoutLimiter  *RateLimiter
	revokeLimiter  *RateLimiter
	generalLimiter *RateLimiter
}

func NewStrictRateLimiter(clients *ClientIPResolver) *StrictRateLimiter {
	return &StrictRateLimiter{
		loginLimiter:   NewRateLimiter(constants.RateLimitLoginRequestsPerSecond, constants.RateLimitLoginBurst, clients),
		refreshLimiter: NewRateLimiter(constants.RateLimitRefreshRequestsPerSecond, constants.RateLimitRefreshBurst, clients),
		logoutLimiter:  NewRateLimiter(constants.RateLimitLogoutRequestsPerSecond, constants.RateLimitLogoutBurst, clients),
		revokeLimiter:  NewRateLimiter(constants.RateLimitRevokeRequestsPerSecond, constants.RateLimitRevokeBurst, clients),
		generalLimiter: NewRateLimiter(constants.RateLimitGeneralRequestsPerSecond, constants.RateLimitGeneralBurst, clients),
	}
}

// StartCleanup prunes idle limiters until ctx is cancelled.
func (srl *StrictRateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(constants.RateLimitCleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srl.loginLimiter.prune()
				srl.refreshLimiter.prune()
				srl.logoutLimiter.prune()
				srl.revokeLimiter.prune()
				srl.generalLimiter.prune()
			}
		}
	}()
}

func (srl *StrictRateLimiter) MiddlewareForPath(path string) func(http.Handler) http.Handler {
	if strings.HasPrefix(path, "/api/auth/sessions/") {
		return srl.revokeLimiter.Middleware("revoke")
	}

	switch path {
	case "/api/auth/login", "/api/auth/register":
		return srl.loginLimiter.Middleware("login")
	case "/api/auth/refresh":
		return srl.refreshLimiter.Middleware("refresh")
	case "/api/auth/logout":
		return srl.logoutLimiter.Middleware("logout")
	case "/api/auth/sessions":
		return srl.revokeLimiter.Middleware("revoke")
	default:
		return srl.generalLimiter.Middleware("general")
	}
}
