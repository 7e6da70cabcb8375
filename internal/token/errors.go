package token

import (
	"net/http"

	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
)

var (
	ErrSignatureInvalid = commonerrors.NewDomainError(
		"TOKEN_SIGNATURE_INVALID",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token signature is invalid",
	)

	ErrMalformed = commonerrors.NewDomainError(
		"TOKEN_MALFORMED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is malformed",
	)

	ErrTypeMismatch = commonerrors.NewDomainError(
		"TOKEN_TYPE_MISMATCH",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token type mismatch",
	)

	ErrExpired = commonerrors.NewDomainError(
		"TOKEN_EXPIRED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token has expired",
	)

	ErrNotYetValid = commonerrors.NewDomainError(
		"TOKEN_NOT_YET_VALID",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is not valid yet",
	)

	ErrEncoding = commonerrors.NewDomainError(
		"TOKEN_ENCODING_FAILED",
		commonerrors.CategoryInternal,
		http.StatusInternalServerError,
		"failed to encode token",
	)
)

// IsDecodingError reports whether err is one of the decode failures
// (bad signature, malformed payload, missing fields).
func IsDecodingError(err error) bool {
	de, ok := commonerrors.AsDomainError(err)
	if !ok {
		return false
	}
	switch de.Code() {
	case ErrSignatureInvalid.Code(), ErrMalformed.Code():
		return true
	}
	return false
}

// reason is the metrics label for a verification failure.
func reason(err error) string {
	if de, ok := commonerrors.AsDomainError(err); ok {
		return de.Code()
	}
	return "unknown"
}
