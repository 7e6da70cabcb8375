package domain

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/AlibekovAA/carai-auth/internal/common/constants"
)

var (
	ErrUsernameLength  = errors.New("username length out of range")
	ErrUsernameHasAt   = errors.New("username must not contain @")
	ErrEmailLength     = errors.New("email length out of range")
	ErrEmailFormat     = errors.New("email must look like local@domain")
	ErrPasswordLength  = errors.New("password length out of range")
	ErrPasswordPadding = errors.New("password must not start or end with whitespace")
)

// ValidateNew applies the policy for creating an account. It is stricter
// than login, which only bounds the input. Usernames may not contain '@' so
// that an identity never matches one user by username and another by email.
func ValidateNew(username, email, password string) error {
	username, email = strings.TrimSpace(username), strings.TrimSpace(email)

	if n := utf8.RuneCountInString(username); n < constants.IdentityMinLength || n > constants.IdentityMaxLength {
		return ErrUsernameLength
	}
	if strings.Contains(username, "@") {
		return ErrUsernameHasAt
	}

	if n := utf8.RuneCountInString(email); n < constants.IdentityMinLength || n > constants.IdentityMaxLength {
		return ErrEmailLength
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return ErrEmailFormat
	}

	if n := utf8.RuneCountInString(password); n < constants.PasswordMinLength || n > constants.PasswordMaxLength {
		return ErrPasswordLength
	}
	if strings.TrimSpace(password) != password {
		return ErrPasswordPadding
	}
	return nil
}
