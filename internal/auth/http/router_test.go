package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authhttp "github.com/AlibekovAA/carai-auth/internal/auth/http"
	"github.com/AlibekovAA/carai-auth/internal/auth/service"
	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	"github.com/AlibekovAA/carai-auth/internal/common/config"
	"github.com/AlibekovAA/carai-auth/internal/common/crypto"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/token"
	userrepo "github.com/AlibekovAA/carai-auth/internal/user/repository"
)

const (
	testSecret = "test-secret-key-at-least-32-bytes!!"
	testUserID = "7f1c2a3e-0000-4000-8000-000000000001"
)

type errorEnvelope struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type mockAuthService struct {
	registerFunc          func(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error)
	loginFunc             func(ctx context.Context, input service.LoginInput) (service.LoginResult, error)
	refreshFunc           func(ctx context.Context, refreshToken string) (service.RefreshResult, error)
	logoutFunc            func(ctx context.Context, input service.LogoutInput) error
	revokeSessionFunc     func(ctx context.Context, userID string) error
	revokeAllSessionsFunc func(ctx context.Context) error
}

func (m *mockAuthService) Register(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, input)
	}
	return service.RegisterResult{}, nil
}

func (m *mockAuthService) Login(ctx context.Context, input service.LoginInput) (service.LoginResult, error) {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, input)
	}
	return service.LoginResult{}, service.ErrAuthenticationFailed
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (service.RefreshResult, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(ctx, refreshToken)
	}
	return service.RefreshResult{}, service.ErrAuthenticationFailed
}

func (m *mockAuthService) Logout(ctx context.Context, input service.LogoutInput) error {
	if m.logoutFunc != nil {
		return m.logoutFunc(ctx, input)
	}
	return nil
}

func (m *mockAuthService) RevokeSession(ctx context.Context, userID string) error {
	if m.revokeSessionFunc != nil {
		return m.revokeSessionFunc(ctx, userID)
	}
	return nil
}

func (m *mockAuthService) RevokeAllSessions(ctx context.Context) error {
	if m.revokeAllSessionsFunc != nil {
		return m.revokeAllSessionsFunc(ctx)
	}
	return nil
}

type testServer struct {
	handler http.Handler
	auth    *mockAuthService
	tokens  *token.Manager
	clock   *clock.MockClock
}

func setupHandler(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		auth:   &mockAuthService{},
		tokens: token.NewManager(token.Config{Secret: []byte(testSecret)}, crypto.NewUUIDGenerator()),
		clock:  clock.NewMockClock(time.Unix(1_700_000_000, 0)),
	}
	cfg := config.AuthConfig{RequestTimeout: 5 * time.Second, CookieSecure: true}
	ts.handler = authhttp.NewHandler(ts.auth, ts.tokens, ts.clock, cfg, logger.NewWithWriter(io.Discard, "test", "error"))
	return ts
}

func (ts *testServer) bearer(t *testing.T, subject string, roles ...token.Role) string {
	t.Helper()
	raw, _, err := ts.tokens.IssueAccessToken(subject, roles, ts.clock.Now(), 15*time.Minute)
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	return "Bearer " + raw
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return env
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func TestAuthHTTP_Register_Success(t *testing.T) {
	ts := setupHandler(t)
	ts.auth.registerFunc = func(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error) {
		if input.Username != "carol" || input.Email != "carol@example.com" || input.Password != "correct-horse" {
			t.Errorf("unexpected input %+v", input)
		}
		return service.RegisterResult{
			UserID:    testUserID,
			Username:  "carol",
			Email:     "carol@example.com",
			CreatedAt: ts.clock.Now().UTC(),
		}, nil
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/register", `{"username":"carol","email":"carol@example.com","password":"correct-horse"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] != testUserID || body["username"] != "carol" || body["is_admin"] != false {
		t.Errorf("unexpected body %v", body)
	}
	if _, ok := body["password_hash"]; ok {
		t.Error("password hash must not be returned")
	}
	if refreshCookie(rec) != nil {
		t.Error("registration must not open a session")
	}
}

func TestAuthHTTP_Register_BadRequests(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"short username", `{"username":"ca","email":"carol@example.com","password":"correct-horse"}`, "username"},
		{"username with at", `{"username":"car@l","email":"carol@example.com","password":"correct-horse"}`, "username"},
		{"bad email", `{"username":"carol","email":"carol","password":"correct-horse"}`, "email"},
		{"short password", `{"username":"carol","email":"carol@example.com","password":"correct"}`, "password"},
		{"missing email", `{"username":"carol","password":"correct-horse"}`, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupHandler(t)
			ts.auth.registerFunc = func(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error) {
				t.Error("expected service not to be called")
				return service.RegisterResult{}, nil
			}

			rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/register", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			env := decodeEnvelope(t, rec)
			if env.Code != "VALIDATION_FAILED" {
				t.Errorf("expected VALIDATION_FAILED, got %s", env.Code)
			}
			if _, ok := env.Details[tt.field]; !ok {
				t.Errorf("expected detail for %s, got %v", tt.field, env.Details)
			}
		})
	}
}

func TestAuthHTTP_Register_Conflict(t *testing.T) {
	ts := setupHandler(t)
	ts.auth.registerFunc = func(ctx context.Context, input service.RegisterInput) (service.RegisterResult, error) {
		return service.RegisterResult{}, userrepo.ErrUserAlreadyExists
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/register", `{"username":"alice","email":"alice@example.com","password":"correct-horse"}`))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != "USER_ALREADY_EXISTS" {
		t.Errorf("expected USER_ALREADY_EXISTS, got %s", env.Code)
	}
}

func TestAuthHTTP_Login_Success(t *testing.T) {
	ts := setupHandler(t)
	expiresAt := ts.clock.Now().Add(24 * time.Hour)
	ts.auth.loginFunc = func(ctx context.Context, input service.LoginInput) (service.LoginResult, error) {
		if input.Identity != "alice" || input.Password != "correct" {
			t.Errorf("unexpected input %+v", input)
		}
		return service.LoginResult{
			AccessToken:      "access",
			RefreshToken:     "refresh",
			SessionID:        "session-1",
			AccessTokenTTL:   900,
			RefreshTokenTTL:  86400,
			ExpiresIn:        900,
			TokenType:        "Bearer",
			RefreshExpiresAt: expiresAt,
			Outcome:          service.OutcomeCreated,
		}, nil
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"identity":"alice","password":"correct"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", got)
	}

	cookie := refreshCookie(rec)
	if cookie == nil {
		t.Fatal("expected refresh_token cookie")
	}
	if cookie.Value != "refresh" || !cookie.HttpOnly || !cookie.Secure || cookie.SameSite != http.SameSiteStrictMode || cookie.Path != "/api/auth" {
		t.Errorf("unexpected cookie attributes: %+v", cookie)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] != "access" || body["session_id"] != "session-1" || body["token_type"] != "Bearer" {
		t.Errorf("unexpected body %v", body)
	}
	if body["access_token_ttl"] != float64(900) || body["refresh_token_ttl"] != float64(86400) || body["expires_in"] != float64(900) {
		t.Errorf("unexpected ttl fields %v", body)
	}
}

func TestAuthHTTP_Login_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		status int
		code   string
	}{
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest, "INVALID_JSON"},
		{"unknown field", http.MethodPost, `{"identity":"alice","password":"correct","admin":true}`, http.StatusBadRequest, "INVALID_JSON"},
		{"short identity", http.MethodPost, `{"identity":"ab","password":"correct"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"missing password", http.MethodPost, `{"identity":"alice"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupHandler(t)
			ts.auth.loginFunc = func(ctx context.Context, input service.LoginInput) (service.LoginResult, error) {
				t.Error("expected service not to be called")
				return service.LoginResult{}, nil
			}

			rec := ts.do(jsonRequest(tt.method, "/api/auth/login", tt.body))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if env := decodeEnvelope(t, rec); env.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, env.Code)
			}
		})
	}
}

func TestAuthHTTP_Login_ValidationDetailsUseJSONNames(t *testing.T) {
	ts := setupHandler(t)

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"identity":"ab","password":"correct"}`))
	env := decodeEnvelope(t, rec)
	if env.Details["identity"] != "min" {
		t.Errorf("expected identity/min detail, got %v", env.Details)
	}
}

func TestAuthHTTP_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"authentication failure", service.ErrAuthenticationFailed.WithCause(service.ErrSessionStale), http.StatusUnauthorized, "AUTHENTICATION_FAILED"},
		{"store failure", service.ErrStoreFailure.WithCause(io.ErrUnexpectedEOF), http.StatusInternalServerError, "STORE_ERROR"},
		{"store unavailable", service.ErrStoreUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unknown error", io.ErrClosedPipe, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupHandler(t)
			ts.auth.loginFunc = func(ctx context.Context, input service.LoginInput) (service.LoginResult, error) {
				return service.LoginResult{}, tt.err
			}

			rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/login", `{"identity":"alice","password":"correct"}`))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			body := rec.Body.String()
			env := decodeEnvelope(t, rec)
			if env.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, env.Code)
			}
			if strings.Contains(body, "expired or revoked") || strings.Contains(body, "unexpected EOF") {
				t.Errorf("expected causes to stay out of the response, got %s", body)
			}
		})
	}
}

func TestAuthHTTP_Refresh(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		body   string
		want   string
	}{
		{"from cookie", "cookie-token", "", "cookie-token"},
		{"from body", "", `{"refresh_token":"body-token"}`, "body-token"},
		{"cookie wins over body", "cookie-token", `{"refresh_token":"body-token"}`, "cookie-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupHandler(t)
			ts.auth.refreshFunc = func(ctx context.Context, refreshToken string) (service.RefreshResult, error) {
				if refreshToken != tt.want {
					t.Errorf("expected token %s, got %s", tt.want, refreshToken)
				}
				return service.RefreshResult{AccessToken: "new-access", AccessTokenTTL: 900, ExpiresIn: 900, TokenType: "Bearer"}, nil
			}

			req := jsonRequest(http.MethodPost, "/api/auth/refresh", tt.body)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "refresh_token", Value: tt.cookie})
			}
			rec := ts.do(req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("expected Cache-Control no-store, got %q", got)
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["access_token"] != "new-access" || body["expires_in"] != float64(900) {
				t.Errorf("unexpected body %v", body)
			}
		})
	}
}

func TestAuthHTTP_Refresh_MissingToken(t *testing.T) {
	ts := setupHandler(t)

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/refresh", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != "MISSING_REFRESH_TOKEN" {
		t.Errorf("expected MISSING_REFRESH_TOKEN, got %s", env.Code)
	}
}

func TestAuthHTTP_Refresh_FailureClearsCookie(t *testing.T) {
	ts := setupHandler(t)

	req := jsonRequest(http.MethodPost, "/api/auth/refresh", "")
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "stale"})
	rec := ts.do(req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if cookie := refreshCookie(rec); cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected refresh cookie to be cleared, got %+v", cookie)
	}
}

func TestAuthHTTP_Logout(t *testing.T) {
	ts := setupHandler(t)

	var got service.LogoutInput
	ts.auth.logoutFunc = func(ctx context.Context, input service.LogoutInput) error {
		got = input
		return nil
	}

	req := jsonRequest(http.MethodPost, "/api/auth/logout", "")
	req.Header.Set("Authorization", ts.bearer(t, testUserID, token.RoleUser))
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh"})
	rec := ts.do(req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.RefreshToken != "refresh" || got.Subject != testUserID {
		t.Errorf("unexpected logout input %+v", got)
	}
	if cookie := refreshCookie(rec); cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected refresh cookie to be cleared, got %+v", cookie)
	}
}

func TestAuthHTTP_Logout_BySessionID(t *testing.T) {
	ts := setupHandler(t)

	var got service.LogoutInput
	ts.auth.logoutFunc = func(ctx context.Context, input service.LogoutInput) error {
		got = input
		return nil
	}

	req := jsonRequest(http.MethodPost, "/api/auth/logout", `{"session_id":"session-1"}`)
	req.Header.Set("Authorization", ts.bearer(t, testUserID, token.RoleUser))
	rec := ts.do(req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got.SessionID != "session-1" || got.RefreshToken != "" {
		t.Errorf("unexpected logout input %+v", got)
	}
}

func TestAuthHTTP_Logout_RequiresAccessToken(t *testing.T) {
	ts := setupHandler(t)
	ts.auth.logoutFunc = func(ctx context.Context, input service.LogoutInput) error {
		t.Error("expected service not to be called")
		return nil
	}

	rec := ts.do(jsonRequest(http.MethodPost, "/api/auth/logout", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAuthHTTP_RevokeSession(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		roles  []token.Role
		status int
		called bool
	}{
		{"admin revokes user", "/api/auth/sessions/" + testUserID, []token.Role{token.RoleAdmin, token.RoleUser}, http.StatusNoContent, true},
		{"plain user forbidden", "/api/auth/sessions/" + testUserID, []token.Role{token.RoleUser}, http.StatusForbidden, false},
		{"invalid user id", "/api/auth/sessions/not-a-uuid", []token.Role{token.RoleAdmin}, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupHandler(t)
			called := false
			ts.auth.revokeSessionFunc = func(ctx context.Context, userID string) error {
				called = true
				if userID != testUserID {
					t.Errorf("expected %s, got %s", testUserID, userID)
				}
				return nil
			}

			req := httptest.NewRequest(http.MethodDelete, tt.path, nil)
			req.Header.Set("Authorization", ts.bearer(t, "admin-1", tt.roles...))
			rec := ts.do(req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if called != tt.called {
				t.Errorf("expected service called=%v, got %v", tt.called, called)
			}
		})
	}
}

func TestAuthHTTP_RevokeAllSessions(t *testing.T) {
	ts := setupHandler(t)
	called := false
	ts.auth.revokeAllSessionsFunc = func(ctx context.Context) error {
		called = true
		return nil
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/auth/sessions", bytes.NewReader(nil))
	req.Header.Set("Authorization", ts.bearer(t, "admin-1", token.RoleAdmin))
	rec := ts.do(req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if !called {
		t.Error("expected revoke-all to be called")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/sessions", nil)
	req.Header.Set("Authorization", ts.bearer(t, "admin-1", token.RoleAdmin))
	if rec := ts.do(req); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}
