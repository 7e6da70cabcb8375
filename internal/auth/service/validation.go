package service

import (
	"strings"
	"unicode/utf8"

	"github.com/AlibekovAA/carai-auth/internal/common/constants"
)

// normalizeIdentity lower-cases a username or email; the user store compares
// identities case-insensitively.
func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func validateLoginInput(identity, password string) error {
	if n := utf8.RuneCountInString(identity); n < constants.IdentityMinLength || n > constants.IdentityMaxLength {
		return ErrValidation.WithCause(errIdentityLength)
	}

	// Login does not re-apply the registration password policy.
	if n := len(password); n == 0 || n > constants.PasswordMaxLength {
		return ErrValidation.WithCause(errPasswordLength)
	}

	return nil
}
