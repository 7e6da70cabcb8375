package repository

import (
	"context"
	"net/http"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	commonerrors "github.com/AlibekovAA/carai-auth/internal/common/errors"
)

var (
	ErrSessionNotFound = commonerrors.NewDomainError(
		"SESSION_NOT_FOUND",
		commonerrors.CategoryNotFound,
		http.StatusNotFound,
		"session not found",
	)

	ErrSessionExists = commonerrors.NewDomainError(
		"SESSION_EXISTS",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"session already exists for user",
	)
)

// SessionRepository stores at most one session row per user.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	FindByUserID(ctx context.Context, userID string) (domain.Session, error)
	FindByID(ctx context.Context, id string) (domain.Session, error)
	// Revoke marks a single session revoked. Unknown ids are a no-op.
	Revoke(ctx context.Context, id string, now time.Time) error
	// RevokeByUserID revokes the user's session; domain.AllIdentities revokes every session.
	RevokeByUserID(ctx context.Context, userID string, now time.Time) error
	// Delete is idempotent.
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	TxManager() SessionTxManager
}

// SessionTx is the read-then-write unit for one user. Reads observe every
// write committed before the transaction started, and no other transaction
// for the same user can commit in between.
type SessionTx interface {
	FindByUserIDForUpdate(ctx context.Context, userID string) (domain.Session, error)
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	Delete(ctx context.Context, id string) error
}

type SessionTxManager interface {
	// WithUserTx commits when fn returns nil and discards writes otherwise.
	// fn may be invoked more than once when the store retries a conflict.
	WithUserTx(ctx context.Context, userID string, fn func(context.Context, SessionTx) error) error
}
