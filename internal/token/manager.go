package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/observability/metrics"
)

type IDGenerator interface {
	NewID() (string, error)
}

type Config struct {
	Secret []byte
	KeyID  string
}

// Manager mints and verifies access/refresh tokens. It holds only key
// material and is safe for concurrent use.
type Manager struct {
	codec *Codec
	ids   IDGenerator
}

func NewManager(cfg Config, ids IDGenerator) *Manager {
	return &Manager{
		codec: NewCodec(cfg.Secret, cfg.KeyID),
		ids:   ids,
	}
}

type IssueOption func(*Claims)

// WithScopes attaches scopes to an access token.
func WithScopes(scopes ...string) IssueOption {
	return func(c *Claims) {
		c.Scopes = append(c.Scopes, scopes...)
	}
}

func (m *Manager) IssueAccessToken(subject string, roles []Role, now time.Time, ttl time.Duration, opts ...IssueOption) (string, Claims, error) {
	claims, err := m.newClaims(Access, subject, now, ttl)
	if err != nil {
		return "", Claims{}, err
	}
	claims.Roles = append([]Role(nil), roles...)
	for _, opt := range opts {
		opt(&claims)
	}

	signed, err := m.codec.Encode(claims)
	if err != nil {
		return "", Claims{}, err
	}
	metrics.AccessTokensIssued.Inc()
	return signed, claims, nil
}

func (m *Manager) IssueRefreshToken(subject string, now time.Time, ttl time.Duration) (string, Claims, error) {
	claims, err := m.newClaims(Refresh, subject, now, ttl)
	if err != nil {
		return "", Claims{}, err
	}

	signed, err := m.codec.Encode(claims)
	if err != nil {
		return "", Claims{}, err
	}
	metrics.RefreshTokensIssued.Inc()
	return signed, claims, nil
}

func (m *Manager) newClaims(typ Type, subject string, now time.Time, ttl time.Duration) (Claims, error) {
	if subject == "" {
		return Claims{}, ErrEncoding.WithCause(errors.New("empty subject"))
	}
	seconds := int64(ttl / time.Second)
	if seconds <= 0 {
		return Claims{}, ErrEncoding.WithCause(fmt.Errorf("ttl must be at least one second, got %v", ttl))
	}

	id, err := m.ids.NewID()
	if err != nil {
		return Claims{}, ErrEncoding.WithCause(fmt.Errorf("generate token id: %w", err))
	}

	iat := now.Unix()
	return Claims{
		Subject:   subject,
		IssuedAt:  iat,
		ExpiresAt: iat + seconds,
		TokenType: typ,
		TokenID:   id,
	}, nil
}

// Verify decodes token and checks, in order, type, expiry (now > exp) and
// issuance (now < iat).
func (m *Manager) Verify(token string, expected Type, now time.Time) (Claims, error) {
	claims, err := m.verify(token, expected, now, true)
	m.observe(expected, err)
	return claims, err
}

// VerifyIgnoringExpiry checks signature and type only. Logout accepts an
// expired refresh token this way.
func (m *Manager) VerifyIgnoringExpiry(token string, expected Type) (Claims, error) {
	claims, err := m.verify(token, expected, time.Time{}, false)
	m.observe(expected, err)
	return claims, err
}

func (m *Manager) verify(token string, expected Type, now time.Time, checkTime bool) (Claims, error) {
	claims, err := m.codec.Decode(token)
	if err != nil {
		return Claims{}, err
	}

	if claims.TokenType != expected {
		return Claims{}, ErrTypeMismatch.WithCause(fmt.Errorf("expected %s, got %s", expected, claims.TokenType))
	}

	if !checkTime {
		return claims, nil
	}

	ts := now.Unix()
	if ts > claims.ExpiresAt {
		return Claims{}, ErrExpired
	}
	if ts < claims.IssuedAt {
		return Claims{}, ErrNotYetValid
	}

	return claims, nil
}

// RemainingLifetime returns exp - iat of a signature-checked token.
func (m *Manager) RemainingLifetime(token string) (int64, error) {
	claims, err := m.codec.Decode(token)
	if err != nil {
		return 0, err
	}
	return claims.Lifetime(), nil
}

func (m *Manager) observe(typ Type, err error) {
	metrics.JWTValidationsTotal.WithLabelValues(string(typ)).Inc()
	if err != nil {
		metrics.JWTValidationsFailed.WithLabelValues(string(typ), reason(err)).Inc()
	}
}
