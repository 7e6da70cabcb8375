package service

import (
	"errors"
	"net/http"

	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
	"github.com/AlibekovAA/carai-auth/internal/token"
)

var (
	// ErrAuthenticationFailed is the only policy outcome clients ever see.
	// The concrete reason travels as the cause and is logged, never returned.
	ErrAuthenticationFailed = commonerrors.NewDomainError(
		"AUTHENTICATION_FAILED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"authentication failed",
	)

	ErrValidation = commonerrors.NewDomainError(
		"VALIDATION_FAILED",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"validation failed",
	)

	ErrSessionNotOwned = commonerrors.NewDomainError(
		"SESSION_NOT_OWNED",
		commonerrors.CategoryAuth,
		http.StatusForbidden,
		"session belongs to another user",
	)

	ErrStoreFailure = commonerrors.NewDomainError(
		"STORE_ERROR",
		commonerrors.CategoryInternal,
		http.StatusInternalServerError,
		"internal server error",
	)

	ErrStoreUnavailable = commonerrors.NewDomainError(
		"SERVICE_UNAVAILABLE",
		commonerrors.CategoryExternal,
		http.StatusServiceUnavailable,
		"service temporarily unavailable",
	)
)

// ErrSessionStale is the cause attached when a refresh hits an expired or
// revoked session. The row is deleted before it is returned.
var ErrSessionStale = errors.New("session is expired or revoked")

var (
	errInvalidCredentials   = errors.New("invalid identity or password")
	errSessionAbsent        = errors.New("no session for identity")
	errRefreshTokenMismatch = errors.New("refresh token does not match stored session")
	errMissingRefreshToken  = errors.New("refresh token is required")
	errUserGone             = errors.New("session owner no longer exists")

	errIdentityLength  = errors.New("identity length out of range")
	errPasswordLength  = errors.New("password length out of range")
	errLogoutTarget    = errors.New("refresh token or session id is required")
	errWildcardRevoke  = errors.New("wildcard identity is reserved for revoke-all")
	errEmptyIdentityID = errors.New("user id is required")
)

func authFailure(cause error) error {
	return ErrAuthenticationFailed.WithCause(cause)
}

// storeError maps infrastructure failures. An open circuit is reported as
// unavailability; everything else is a generic store failure.
func storeError(err error) error {
	if errors.Is(err, commonerrors.ErrCircuitOpen) {
		return ErrStoreUnavailable.WithCause(err)
	}
	if errors.Is(err, token.ErrEncoding) {
		return err
	}
	return ErrStoreFailure.WithCause(err)
}
