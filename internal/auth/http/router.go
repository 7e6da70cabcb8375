package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/auth/service"
	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	"github.com/AlibekovAA/carai-auth/internal/common/config"
	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	commonhttp "github.com/AlibekovAA/carai-auth/internal/common/http"
	"github.com/AlibekovAA/carai-auth/internal/common/jwtverify"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
)

const sessionsPath = "/api/auth/sessions"

type AuthService interface {
	Register(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error)
	Login(ctx context.Context, input service.LoginInput) (service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (service.RefreshResult, error)
	Logout(ctx context.Context, input service.LogoutInput) error
	RevokeSession(ctx context.Context, userID string) error
	RevokeAllSessions(ctx context.Context) error
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=320,excludes=@"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Identity string `json:"identity" validate:"required,min=3,max=320"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=4096"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=4096"`
	SessionID    string `json:"session_id" validate:"omitempty,max=64"`
}

type loginResponse struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	SessionID       string `json:"session_id"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	AccessTokenTTL  int64  `json:"access_token_ttl"`
	RefreshTokenTTL int64  `json:"refresh_token_ttl"`
	Outcome         string `json:"outcome"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type refreshResponse struct {
	AccessToken    string `json:"access_token"`
	TokenType      string `json:"token_type"`
	ExpiresIn      int64  `json:"expires_in"`
	AccessTokenTTL int64  `json:"access_token_ttl"`
}

type Handler struct {
	auth   AuthService
	cfg    config.AuthConfig
	log    *logger.Logger
	errors *commonhttp.ErrorHandler
}

func NewHandler(auth AuthService, verifier jwtverify.Verifier, clk clock.Clock, cfg config.AuthConfig, log *logger.Logger) http.Handler {
	h := &Handler{
		auth:   auth,
		cfg:    cfg,
		log:    log,
		errors: commonhttp.NewErrorHandler(log),
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = constants.DefaultAuthRequestTimeout
	}
	withTimeout := commonhttp.WithTimeout(timeout)

	authenticated := jwtverify.Middleware(verifier, clk, log)
	admin := func(next http.HandlerFunc) http.Handler {
		return authenticated(jwtverify.RequireAdmin(log)(next))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", commonhttp.RequireMethod(http.MethodPost)(withTimeout(h.register)))
	mux.HandleFunc("/api/auth/login", commonhttp.RequireMethod(http.MethodPost)(withTimeout(h.login)))
	mux.HandleFunc("/api/auth/refresh", commonhttp.RequireMethod(http.MethodPost)(withTimeout(h.refresh)))
	mux.Handle("/api/auth/logout", authenticated(commonhttp.RequireMethod(http.MethodPost)(withTimeout(h.logout))))
	mux.Handle(sessionsPath, admin(commonhttp.RequireMethod(http.MethodDelete)(withTimeout(h.revokeAll))))
	mux.Handle(sessionsPath+"/", admin(commonhttp.RequireMethod(http.MethodDelete)(withTimeout(h.revokeSession))))
	return mux
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusCreated, userResponse{
		ID:        result.UserID,
		Username:  result.Username,
		Email:     result.Email,
		IsAdmin:   result.IsAdmin,
		CreatedAt: result.CreatedAt,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.auth.Login(r.Context(), service.LoginInput{
		Identity: req.Identity,
		Password: req.Password,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.setRefreshCookie(w, r, result.RefreshToken, result.RefreshExpiresAt)
	commonhttp.NoStore(w)
	commonhttp.WriteJSON(w, http.StatusCreated, loginResponse{
		AccessToken:     result.AccessToken,
		RefreshToken:    result.RefreshToken,
		SessionID:       result.SessionID,
		TokenType:       result.TokenType,
		ExpiresIn:       result.ExpiresIn,
		AccessTokenTTL:  result.AccessTokenTTL,
		RefreshTokenTTL: result.RefreshTokenTTL,
		Outcome:         string(result.Outcome),
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	refreshToken := refreshTokenFrom(r, req.RefreshToken)
	if refreshToken == "" {
		commonhttp.WriteErrorEnvelope(w, http.StatusUnauthorized, commonhttp.CodeMissingRefreshToken, "missing refresh token", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	result, err := h.auth.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, service.ErrAuthenticationFailed) {
			h.clearRefreshCookie(w, r)
		}
		h.errors.HandleError(w, r, err)
		return
	}

	commonhttp.NoStore(w)
	commonhttp.WriteJSON(w, http.StatusOK, refreshResponse{
		AccessToken:    result.AccessToken,
		TokenType:      result.TokenType,
		ExpiresIn:      result.ExpiresIn,
		AccessTokenTTL: result.AccessTokenTTL,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	claims, _ := jwtverify.FromContext(r.Context())
	input := service.LogoutInput{
		RefreshToken: refreshTokenFrom(r, req.RefreshToken),
		SessionID:    req.SessionID,
		Subject:      claims.Subject,
	}

	h.clearRefreshCookie(w, r)
	if err := h.auth.Logout(r.Context(), input); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := commonhttp.PathParam(r.URL.Path, sessionsPath)
	if !ok || commonhttp.ValidateUUID(userID) != nil {
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidUserIDFormat, "invalid user id", nil, commonhttp.TraceIDFromContext(r.Context()))
		return
	}

	if err := h.auth.RevokeSession(r.Context(), userID); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logAdmin(r, "admin_revoke_session", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeAll(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.RevokeAllSessions(r.Context()); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logAdmin(r, "admin_revoke_all_sessions", "")
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates the JSON body into v. With optional set, an
// empty body is accepted and leaves v zeroed.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	traceID := commonhttp.TraceIDFromContext(r.Context())

	if err := commonhttp.DecodeJSON(r, v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			commonhttp.WriteErrorEnvelope(w, http.StatusRequestEntityTooLarge, commonhttp.CodeRequestTooLarge, "request body too large", nil, traceID)
			return false
		}
		h.log.WithFields(r.Context(), logger.Fields{
			"path":   r.URL.Path,
			"action": "invalid_json",
		}).Warnf("request rejected: invalid json: %v", err)
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json", nil, traceID)
		return false
	}

	if details, err := commonhttp.ValidateStruct(v); err != nil {
		h.log.WithFields(r.Context(), logger.Fields{
			"path":   r.URL.Path,
			"action": "validation_failed",
		}).Warnf("request rejected: %v", err)
		commonhttp.WriteErrorEnvelope(w, http.StatusBadRequest, commonhttp.CodeValidationFailed, "validation failed", details, traceID)
		return false
	}
	return true
}

func (h *Handler) logAdmin(r *http.Request, action, target string) {
	claims, _ := jwtverify.FromContext(r.Context())
	h.log.WithFields(r.Context(), logger.Fields{
		"admin_id":  claims.Subject,
		"target_id": target,
		"action":    action,
	}).Info("admin session revocation")
}

// refreshTokenFrom prefers the cookie; the body field serves clients that
// cannot hold cookies.
func refreshTokenFrom(r *http.Request, body string) string {
	if cookie, err := r.Cookie(constants.RefreshTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return body
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	if token == "" {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    token,
		Path:     constants.RefreshTokenCookiePath,
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.cfg.CookieSecure || r.TLS != nil,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.cfg.CookieSecure || r.TLS != nil,
	})
}
