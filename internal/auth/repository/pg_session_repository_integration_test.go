package repository

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	commoncrypto "github.com/AlibekovAA/carai-auth/internal/common/crypto"
	"github.com/AlibekovAA/carai-auth/internal/common/db"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/db/migrate"
)

// Postgres tests run only when TEST_DATABASE_URL points at a disposable
// database; migrations are applied before each test.

func newTestPg(t *testing.T) (*pgxpool.Pool, *PgSessionRepository) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set; skipping Postgres integration test")
	}
	if err := migrate.Run(dsn, migrate.DirectionUp); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	log := logger.NewWithWriter(io.Discard, "test", "error")
	pool, err := db.NewPool(context.Background(), log, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool, NewPgSessionRepository(pool, log)
}

func newID(t *testing.T) string {
	t.Helper()
	id, err := commoncrypto.NewUUIDGenerator().NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	return id
}

// mustCreateUser inserts a bare user row; sessions reference users.
func mustCreateUser(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id := newID(t)
	_, err := pool.Exec(
		context.Background(),
		`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, 'x')`,
		id, "user-"+id, id+"@example.com",
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})
	return id
}

func TestPgSessionRepository_CreateAndFind(t *testing.T) {
	pool, repo := newTestPg(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	userID := mustCreateUser(t, pool)

	created, err := repo.Create(ctx, testSession(newID(t), userID, now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	byUser, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("find by user: %v", err)
	}
	if byUser.ID != created.ID || byUser.RefreshToken != created.RefreshToken {
		t.Errorf("expected %+v, got %+v", created, byUser)
	}
	if !byUser.ExpiresAt.Equal(created.ExpiresAt) {
		t.Errorf("expected expiry %v, got %v", created.ExpiresAt, byUser.ExpiresAt)
	}

	if _, err := repo.FindByID(ctx, created.ID); err != nil {
		t.Errorf("find by id: %v", err)
	}
	if _, err := repo.FindByID(ctx, newID(t)); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPgSessionRepository_CreateSecondSessionForUser(t *testing.T) {
	pool, repo := newTestPg(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	userID := mustCreateUser(t, pool)

	if _, err := repo.Create(ctx, testSession(newID(t), userID, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := repo.Create(ctx, testSession(newID(t), userID, now))
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestPgSessionRepository_WithUserTx_SerializesPerUser(t *testing.T) {
	pool, repo := newTestPg(t)
	now := time.Now().UTC().Truncate(time.Second)
	userID := mustCreateUser(t, pool)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.TxManager().WithUserTx(context.Background(), userID, func(ctx context.Context, tx SessionTx) error {
				_, err := tx.FindByUserIDForUpdate(ctx, userID)
				if err == nil {
					return nil
				}
				if !errors.Is(err, ErrSessionNotFound) {
					return err
				}
				id, err := commoncrypto.NewUUIDGenerator().NewID()
				if err != nil {
					return err
				}
				if _, err := tx.Create(ctx, testSession(id, userID, now)); err != nil {
					return err
				}
				mu.Lock()
				created++
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if created != 1 {
		t.Errorf("expected exactly one session to be created, got %d", created)
	}
}

func TestPgSessionRepository_WithUserTx_DeleteAndRecreate(t *testing.T) {
	pool, repo := newTestPg(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	userID := mustCreateUser(t, pool)

	stale := testSession(newID(t), userID, now)
	stale.IsRevoked = true
	if _, err := repo.Create(ctx, stale); err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh := testSession(newID(t), userID, now)
	err := repo.TxManager().WithUserTx(ctx, userID, func(ctx context.Context, tx SessionTx) error {
		current, err := tx.FindByUserIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, current.ID); err != nil {
			return err
		}
		_, err = tx.Create(ctx, fresh)
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	got, err := repo.FindByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("find by user: %v", err)
	}
	if got.ID != fresh.ID || got.IsRevoked {
		t.Errorf("expected fresh session %s, got %+v", fresh.ID, got)
	}
}

func TestPgSessionRepository_RevokeByUserID(t *testing.T) {
	pool, repo := newTestPg(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	alice, bob := mustCreateUser(t, pool), mustCreateUser(t, pool)
	aliceSession, err := repo.Create(ctx, testSession(newID(t), alice, now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bobSession, err := repo.Create(ctx, testSession(newID(t), bob, now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.RevokeByUserID(ctx, alice, now); err != nil {
		t.Fatalf("revoke by user: %v", err)
	}
	if s, _ := repo.FindByID(ctx, aliceSession.ID); !s.IsRevoked {
		t.Error("expected alice's session to be revoked")
	}
	if s, _ := repo.FindByID(ctx, bobSession.ID); s.IsRevoked {
		t.Error("expected bob's session to be untouched")
	}

	if err := repo.RevokeByUserID(ctx, domain.AllIdentities, now); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if s, _ := repo.FindByID(ctx, bobSession.ID); !s.IsRevoked {
		t.Error("expected every session to be revoked")
	}
}

func TestPgSessionRepository_DeleteExpired(t *testing.T) {
	pool, repo := newTestPg(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	expired := testSession(newID(t), mustCreateUser(t, pool), now.Add(-48*time.Hour))
	live := testSession(newID(t), mustCreateUser(t, pool), now)
	for _, s := range []domain.Session{expired, live} {
		if _, err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	deleted, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted < 1 {
		t.Errorf("expected at least one row deleted, got %d", deleted)
	}
	if _, err := repo.FindByID(ctx, expired.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected expired row to be gone, got %v", err)
	}
	if _, err := repo.FindByID(ctx, live.ID); err != nil {
		t.Errorf("expected live row to remain, got %v", err)
	}
}
