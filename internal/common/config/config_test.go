package config

import (
	"errors"
	"testing"
	"time"

	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadAuthConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "postgres://localhost/auth")

	cfg, err := LoadAuthConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AccessTokenTTL != 900*time.Second {
		t.Errorf("expected 900s access ttl, got %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTL != 86400*time.Second {
		t.Errorf("expected 86400s refresh ttl, got %v", cfg.RefreshTTL)
	}
	if cfg.HTTPPort != "8081" {
		t.Errorf("expected default port 8081, got %s", cfg.HTTPPort)
	}
	if cfg.SessionStore != SessionStorePostgres {
		t.Errorf("expected postgres store, got %s", cfg.SessionStore)
	}
	if !cfg.CookieSecure {
		t.Error("expected secure cookies by default")
	}
}

func TestLoadAuthConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "postgres://localhost/auth")
	t.Setenv("ACCESS_TOKEN_TTL", "60")
	t.Setenv("REFRESH_TOKEN_TTL", "2h")
	t.Setenv("SESSION_STORE", "Redis")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")

	cfg, err := LoadAuthConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.AccessTokenTTL != time.Minute {
		t.Errorf("expected bare seconds to parse, got %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTTL != 2*time.Hour {
		t.Errorf("expected 2h, got %v", cfg.RefreshTTL)
	}
	if cfg.SessionStore != SessionStoreRedis {
		t.Errorf("expected redis, got %s", cfg.SessionStore)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins: %v", cfg.CORSOrigins)
	}
	if cfg.CookieSecure {
		t.Error("expected COOKIE_SECURE=false to apply")
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("unexpected trusted proxies: %v", cfg.TrustedProxies)
	}
}

func TestLoadAuthConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "missing secret",
			env:     map[string]string{"DATABASE_URL": "postgres://x"},
			wantErr: commonerrors.ErrMissingRequiredEnv,
		},
		{
			name:    "short secret",
			env:     map[string]string{"JWT_SECRET": "short", "DATABASE_URL": "postgres://x"},
			wantErr: commonerrors.ErrInvalidJWTSecret,
		},
		{
			name:    "missing database",
			env:     map[string]string{"JWT_SECRET": testSecret},
			wantErr: commonerrors.ErrMissingRequiredEnv,
		},
		{
			name:    "unknown store",
			env:     map[string]string{"JWT_SECRET": testSecret, "DATABASE_URL": "postgres://x", "SESSION_STORE": "mysql"},
			wantErr: commonerrors.ErrInvalidConfig,
		},
		{
			name:    "refresh shorter than access",
			env:     map[string]string{"JWT_SECRET": testSecret, "DATABASE_URL": "postgres://x", "ACCESS_TOKEN_TTL": "1h", "REFRESH_TOKEN_TTL": "10m"},
			wantErr: commonerrors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadAuthConfig()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMigrateConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadMigrateConfig(); !errors.Is(err, commonerrors.ErrMissingRequiredEnv) {
		t.Fatalf("expected missing env error, got %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/auth")
	cfg, err := LoadMigrateConfig()
	if err != nil {
		t.Fatalf("expected no error without a JWT secret, got %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/auth" {
		t.Errorf("unexpected database url %s", cfg.DatabaseURL)
	}
}
