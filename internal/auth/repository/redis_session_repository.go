package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	"github.com/AlibekovAA/carai-auth/internal/observability/metrics"
)

var ErrTxConflict = errors.New("session transaction conflict: retries exhausted")

// RedisSessionRepository keeps one JSON blob per user at
// <prefix>:session:user:<userID> and an id index at <prefix>:session:id:<id>.
// Both keys expire with the session, so expired rows vanish on their own.
type RedisSessionRepository struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

func NewRedisSessionRepository(client redis.UniversalClient, prefix string) *RedisSessionRepository {
	if prefix == "" {
		prefix = constants.DefaultRedisKeyPrefix
	}
	return &RedisSessionRepository{
		client:     client,
		prefix:     prefix,
		maxRetries: constants.RedisTxMaxRetries,
	}
}

func (r *RedisSessionRepository) userKey(userID string) string {
	return r.prefix + ":session:user:" + userID
}

func (r *RedisSessionRepository) idKey(id string) string {
	return r.prefix + ":session:id:" + id
}

func (r *RedisSessionRepository) TxManager() SessionTxManager {
	return r
}

func (r *RedisSessionRepository) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	var created domain.Session
	err := r.WithUserTx(ctx, session.UserID, func(ctx context.Context, tx SessionTx) error {
		if _, err := tx.FindByUserIDForUpdate(ctx, session.UserID); err == nil {
			return ErrSessionExists
		} else if !errors.Is(err, ErrSessionNotFound) {
			return err
		}
		var err error
		created, err = tx.Create(ctx, session)
		return err
	})
	return created, err
}

func (r *RedisSessionRepository) FindByUserID(ctx context.Context, userID string) (domain.Session, error) {
	start := time.Now()
	s, err := r.load(ctx, r.client, userID)
	observeRedis("find_by_user", start, err)
	return s, err
}

func (r *RedisSessionRepository) FindByID(ctx context.Context, id string) (domain.Session, error) {
	start := time.Now()
	s, err := r.findByID(ctx, id)
	observeRedis("find_by_id", start, err)
	return s, err
}

func (r *RedisSessionRepository) findByID(ctx context.Context, id string) (domain.Session, error) {
	userID, err := r.client.Get(ctx, r.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to read session index: %w", err)
	}

	s, err := r.load(ctx, r.client, userID)
	if err != nil {
		return domain.Session{}, err
	}
	if s.ID != id {
		return domain.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *RedisSessionRepository) Revoke(ctx context.Context, id string, now time.Time) error {
	userID, err := r.client.Get(ctx, r.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session index: %w", err)
	}
	return r.revokeUser(ctx, userID, id, now)
}

func (r *RedisSessionRepository) RevokeByUserID(ctx context.Context, userID string, now time.Time) error {
	if userID != domain.AllIdentities {
		return r.revokeUser(ctx, userID, "", now)
	}

	pattern := r.userKey("*")
	prefixLen := len(r.userKey(""))
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.revokeUser(ctx, iter.Val()[prefixLen:], "", now); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan sessions: %w", err)
	}
	return nil
}

// revokeUser marks the user's session revoked; a non-empty onlyID restricts
// it to that session id.
func (r *RedisSessionRepository) revokeUser(ctx context.Context, userID, onlyID string, now time.Time) error {
	start := time.Now()
	err := r.withUserTx(ctx, userID, func(ctx context.Context, tx *redisSessionTx) error {
		s, err := tx.FindByUserIDForUpdate(ctx, userID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if (onlyID != "" && s.ID != onlyID) || s.IsRevoked {
			return nil
		}
		s.IsRevoked = true
		s.UpdatedAt = now
		tx.update(s)
		return nil
	})
	observeRedis("revoke", start, err)
	return err
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	userID, err := r.client.Get(ctx, r.idKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read session index: %w", err)
	}

	return r.WithUserTx(ctx, userID, func(ctx context.Context, tx SessionTx) error {
		return tx.Delete(ctx, id)
	})
}

// DeleteExpired is a no-op: keys carry their own expiry.
func (r *RedisSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// WithUserTx runs fn under WATCH on the user key. Writes are buffered and
// applied in MULTI/EXEC; a concurrent write to the key aborts EXEC and fn is
// re-run, up to maxRetries times.
func (r *RedisSessionRepository) WithUserTx(ctx context.Context, userID string, fn func(context.Context, SessionTx) error) error {
	return r.withUserTx(ctx, userID, func(ctx context.Context, tx *redisSessionTx) error {
		return fn(ctx, tx)
	})
}

func (r *RedisSessionRepository) withUserTx(ctx context.Context, userID string, fn func(context.Context, *redisSessionTx) error) error {
	key := r.userKey(userID)

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		start := time.Now()
		err := r.client.Watch(ctx, func(rtx *redis.Tx) error {
			stx := &redisSessionTx{repo: r, rtx: rtx, userID: userID}
			if err := fn(ctx, stx); err != nil {
				return err
			}
			if len(stx.ops) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, op := range stx.ops {
					op(ctx, pipe)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			metrics.RedisTxConflicts.Inc()
			continue
		}
		observeRedis("tx", start, err)
		return err
	}

	return ErrTxConflict
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisSessionRepository) load(ctx context.Context, c stringGetter, userID string) (domain.Session, error) {
	raw, err := c.Get(ctx, r.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to read session: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return s, nil
}

type redisSessionTx struct {
	repo   *RedisSessionRepository
	rtx    *redis.Tx
	userID string
	ops    []func(context.Context, redis.Pipeliner)
}

func (t *redisSessionTx) FindByUserIDForUpdate(ctx context.Context, userID string) (domain.Session, error) {
	if userID != t.userID {
		return domain.Session{}, fmt.Errorf("session tx scoped to user %s, got %s", t.userID, userID)
	}
	return t.repo.load(ctx, t.rtx, userID)
}

func (t *redisSessionTx) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	if session.UserID != t.userID {
		return domain.Session{}, fmt.Errorf("session tx scoped to user %s, got %s", t.userID, session.UserID)
	}
	if _, err := json.Marshal(session); err != nil {
		return domain.Session{}, fmt.Errorf("failed to encode session: %w", err)
	}
	t.put(session)
	return session, nil
}

func (t *redisSessionTx) Delete(ctx context.Context, id string) error {
	userKey := t.repo.userKey(t.userID)
	idKey := t.repo.idKey(id)

	current, err := t.repo.load(ctx, t.rtx, t.userID)
	ownsRow := err == nil && current.ID == id
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	t.ops = append(t.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		if ownsRow {
			pipe.Del(ctx, userKey)
		}
		pipe.Del(ctx, idKey)
	})
	return nil
}

// update rewrites the blob of an existing session; its keys keep expiring at ExpiresAt.
func (t *redisSessionTx) update(session domain.Session) {
	data, _ := json.Marshal(session)
	userKey := t.repo.userKey(session.UserID)

	t.ops = append(t.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Set(ctx, userKey, data, 0)
		pipe.ExpireAt(ctx, userKey, session.ExpiresAt)
	})
}

func (t *redisSessionTx) put(session domain.Session) {
	data, _ := json.Marshal(session)
	userKey := t.repo.userKey(session.UserID)
	idKey := t.repo.idKey(session.ID)

	t.ops = append(t.ops, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Set(ctx, userKey, data, 0)
		pipe.ExpireAt(ctx, userKey, session.ExpiresAt)
		pipe.Set(ctx, idKey, session.UserID, 0)
		pipe.ExpireAt(ctx, idKey, session.ExpiresAt)
	})
}

func observeRedis(operation string, start time.Time, err error) {
	metrics.RedisCommandDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		metrics.RedisCommandErrors.WithLabelValues(operation).Inc()
	}
}
