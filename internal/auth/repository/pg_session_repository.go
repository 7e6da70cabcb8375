package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	"github.com/AlibekovAA/carai-auth/internal/common/db"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
)

const sessionColumns = `id, user_id, refresh_token, is_revoked, expires_at, created_at, updated_at`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type PgSessionRepository struct {
	pool  *pgxpool.Pool
	txMgr *PgSessionTxManager
}

func NewPgSessionRepository(pool *pgxpool.Pool, log *logger.Logger) *PgSessionRepository {
	return &PgSessionRepository{
		pool:  pool,
		txMgr: NewPgSessionTxManager(pool, log),
	}
}

func (r *PgSessionRepository) TxManager() SessionTxManager {
	return r.txMgr
}

func (r *PgSessionRepository) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	return createSession(ctx, r.pool, session, "create session")
}

func (r *PgSessionRepository) FindByUserID(ctx context.Context, userID string) (domain.Session, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1`,
		userID,
	)
	return scanSession(row, "find session by user", start)
}

func (r *PgSessionRepository) FindByID(ctx context.Context, id string) (domain.Session, error) {
	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`,
		id,
	)
	return scanSession(row, "find session by id", start)
}

func (r *PgSessionRepository) Revoke(ctx context.Context, id string, now time.Time) error {
	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`UPDATE sessions SET is_revoked = TRUE, updated_at = $2 WHERE id = $1 AND is_revoked = FALSE`,
		id,
		now,
	)
	return db.HandleExecError(err, "revoke session", start)
}

func (r *PgSessionRepository) RevokeByUserID(ctx context.Context, userID string, now time.Time) error {
	start := time.Now()
	var err error
	if userID == domain.AllIdentities {
		_, err = r.pool.Exec(
			ctx,
			`UPDATE sessions SET is_revoked = TRUE, updated_at = $1 WHERE is_revoked = FALSE`,
			now,
		)
		return db.HandleExecError(err, "revoke all sessions", start)
	}

	_, err = r.pool.Exec(
		ctx,
		`UPDATE sessions SET is_revoked = TRUE, updated_at = $2 WHERE user_id = $1 AND is_revoked = FALSE`,
		userID,
		now,
	)
	return db.HandleExecError(err, "revoke session by user", start)
}

func (r *PgSessionRepository) Delete(ctx context.Context, id string) error {
	return deleteSession(ctx, r.pool, id, "delete session")
}

func (r *PgSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	res, err := r.pool.Exec(
		ctx,
		`DELETE FROM sessions WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, db.HandleExecError(err, "delete expired sessions", start)
	}
	db.MeasureQueryDuration("delete expired sessions", start)
	return res.RowsAffected(), nil
}

type PgSessionTxManager struct {
	pool  *pgxpool.Pool
	log   *logger.Logger
	retry db.RetryConfig
}

func NewPgSessionTxManager(pool *pgxpool.Pool, log *logger.Logger) *PgSessionTxManager {
	return &PgSessionTxManager{pool: pool, log: log, retry: db.DefaultRetryConfig}
}

// WithUserTx serializes transactions per user with a transaction-scoped
// advisory lock, so the find-then-create sequence cannot interleave with a
// concurrent login even when no row exists yet to lock FOR UPDATE.
func (m *PgSessionTxManager) WithUserTx(ctx context.Context, userID string, fn func(context.Context, SessionTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	return db.RetryWithBackoff(ctx, m.log, m.retry, func() error {
		return db.WithTx(ctx, m.pool, func(tx pgx.Tx) error {
			start := time.Now()
			_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
			if err := db.HandleExecError(err, "lock session user", start); err != nil {
				return err
			}
			return fn(ctx, &pgSessionTx{tx: tx})
		})
	})
}

type pgSessionTx struct {
	tx pgx.Tx
}

func (t *pgSessionTx) FindByUserIDForUpdate(ctx context.Context, userID string) (domain.Session, error) {
	start := time.Now()
	row := t.tx.QueryRow(
		ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 FOR UPDATE`,
		userID,
	)
	return scanSession(row, "find session by user in tx", start)
}

func (t *pgSessionTx) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	return createSession(ctx, t.tx, session, "create session in tx")
}

func (t *pgSessionTx) Delete(ctx context.Context, id string) error {
	return deleteSession(ctx, t.tx, id, "delete session in tx")
}

func createSession(ctx context.Context, q querier, session domain.Session, operation string) (domain.Session, error) {
	start := time.Now()
	row := q.QueryRow(
		ctx,
		`INSERT INTO sessions (id, user_id, refresh_token, is_revoked, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+sessionColumns,
		session.ID,
		session.UserID,
		session.RefreshToken,
		session.IsRevoked,
		session.ExpiresAt,
		session.CreatedAt,
		session.UpdatedAt,
	)

	created, err := scanSession(row, operation, start)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.Session{}, ErrSessionExists.WithCause(err)
	}
	return created, err
}

func deleteSession(ctx context.Context, q querier, id, operation string) error {
	start := time.Now()
	_, err := q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return db.HandleExecError(err, operation, start)
}

func scanSession(row pgx.Row, operation string, start time.Time) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.IsRevoked, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err := db.HandleQueryError(err, ErrSessionNotFound, operation, start); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}
