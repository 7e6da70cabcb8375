package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const headerKeyID = "kid"

var errKeyIDMismatch = errors.New("key id mismatch")

type wireClaims struct {
	jwt.RegisteredClaims
	Type   Type     `json:"typ"`
	Roles  []Role   `json:"roles,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// Codec signs and parses HS256 JWTs. It never looks at the clock: expiry and
// issuance checks belong to Manager.Verify.
type Codec struct {
	secret []byte
	keyID  string
	parser *jwt.Parser
}

func NewCodec(secret []byte, keyID string) *Codec {
	return &Codec{
		secret: secret,
		keyID:  keyID,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (c *Codec) Encode(claims Claims) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrEncoding.WithCause(errors.New("empty signing secret"))
	}

	wire := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        claims.TokenID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
		Type:   claims.TokenType,
		Roles:  claims.Roles,
		Scopes: claims.Scopes,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	if c.keyID != "" {
		tok.Header[headerKeyID] = c.keyID
	}

	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", ErrEncoding.WithCause(err)
	}
	return signed, nil
}

func (c *Codec) Decode(signed string) (Claims, error) {
	var wire wireClaims
	_, err := c.parser.ParseWithClaims(signed, &wire, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return Claims{}, ErrMalformed.WithCause(err)
		}
		return Claims{}, ErrSignatureInvalid.WithCause(err)
	}

	if err := wire.validateShape(); err != nil {
		return Claims{}, ErrMalformed.WithCause(err)
	}

	return Claims{
		Subject:   wire.Subject,
		IssuedAt:  wire.IssuedAt.Unix(),
		ExpiresAt: wire.ExpiresAt.Unix(),
		TokenType: wire.Type,
		TokenID:   wire.ID,
		Roles:     wire.Roles,
		Scopes:    wire.Scopes,
	}, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if c.keyID != "" {
		kid, _ := t.Header[headerKeyID].(string)
		if kid != c.keyID {
			return nil, fmt.Errorf("%w: got %q", errKeyIDMismatch, kid)
		}
	}
	return c.secret, nil
}

func (w *wireClaims) validateShape() error {
	switch {
	case w.Subject == "":
		return errors.New("missing sub")
	case w.ID == "":
		return errors.New("missing jti")
	case w.IssuedAt == nil:
		return errors.New("missing iat")
	case w.ExpiresAt == nil:
		return errors.New("missing exp")
	case !w.Type.Valid():
		return fmt.Errorf("unknown typ %q", w.Type)
	case w.IssuedAt.Unix() > w.ExpiresAt.Unix():
		return errors.New("iat after exp")
	case w.Type == Refresh && (len(w.Roles) > 0 || len(w.Scopes) > 0):
		return errors.New("refresh token carries authorization attributes")
	}
	return nil
}
