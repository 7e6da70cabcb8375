package crypto

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMalformedHash        = errors.New("malformed password hash")
	ErrUnsupportedAlgorithm = errors.New("unsupported password hash algorithm")
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	PasswordVerifier
}

// PasswordVerifier reports whether plaintext matches storedHash.
// A mismatch is (false, nil); errors are reserved for hashes that cannot be parsed.
type PasswordVerifier interface {
	Verify(plaintext, storedHash string) (bool, error)
}

type BcryptHasher struct {
	Cost int
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = 12
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(plaintext, storedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, errors.Join(ErrMalformedHash, err)
	}
}

// MultiVerifier picks the algorithm from the stored hash prefix, so argon2id
// and legacy bcrypt rows can be verified side by side. New hashes are argon2id.
type MultiVerifier struct {
	argon  *Argon2Hasher
	bcrypt *BcryptHasher
}

func NewMultiVerifier(argon *Argon2Hasher, bc *BcryptHasher) *MultiVerifier {
	if argon == nil {
		argon = NewArgon2Hasher(DefaultArgon2Params())
	}
	if bc == nil {
		bc = &BcryptHasher{}
	}
	return &MultiVerifier{argon: argon, bcrypt: bc}
}

func (v *MultiVerifier) Hash(password string) (string, error) {
	return v.argon.Hash(password)
}

func (v *MultiVerifier) Verify(plaintext, storedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return v.argon.Verify(plaintext, storedHash)
	case strings.HasPrefix(storedHash, "$2a$"),
		strings.HasPrefix(storedHash, "$2b$"),
		strings.HasPrefix(storedHash, "$2y$"):
		return v.bcrypt.Verify(plaintext, storedHash)
	case storedHash == "":
		return false, ErrMalformedHash
	default:
		return false, ErrUnsupportedAlgorithm
	}
}
