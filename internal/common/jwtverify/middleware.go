package jwtverify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	commonhttp "github.com/AlibekovAA/carai-auth/internal/common/http"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/token"
)

type Verifier interface {
	Verify(raw string, expected token.Type, now time.Time) (token.Claims, error)
}

type contextKey string

const claimsKey contextKey = "jwt_claims"

// Middleware admits requests carrying a valid bearer access token and stores
// its claims in the request context.
func Middleware(verifier Verifier, clk clock.Clock, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceID := commonhttp.TraceIDFromContext(ctx)

			raw, ok := bearerToken(r)
			if !ok {
				log.WithFields(ctx, logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_missing_authorization",
				}).Warn("jwt auth failed: missing or invalid authorization header")
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingAuthorization, "missing or invalid authorization", nil, traceID)
				return
			}

			claims, err := verifier.Verify(raw, token.Access, clk.Now())
			if err != nil {
				log.WithFields(ctx, logger.Fields{
					"path":   r.URL.Path,
					"action": "jwt_invalid_token",
				}).Warnf("jwt auth failed: %v", err)
				commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "invalid token", nil, traceID)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims, ok := FromContext(ctx)
			if !ok || !claims.IsAdmin() {
				log.WithFields(ctx, logger.Fields{
					"user_id": claims.Subject,
					"path":    r.URL.Path,
					"action":  "jwt_admin_required",
				}).Warn("admin route rejected")
				commonhttp.WriteErrorEnvelope(w, http.StatusForbidden, commonhttp.CodeForbidden, "admin role required", nil, commonhttp.TraceIDFromContext(ctx))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithClaims(ctx context.Context, claims token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func FromContext(ctx context.Context) (token.Claims, bool) {
	val := ctx.Value(claimsKey)
	claims, ok := val.(token.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	prefix := "Bearer "
	if len(raw) <= len(prefix) || !strings.EqualFold(raw[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(raw[len(prefix):])
	return tok, tok != ""
}
