package service_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	authrepo "github.com/AlibekovAA/carai-auth/internal/auth/repository"
	"github.com/AlibekovAA/carai-auth/internal/auth/service"
	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/carai-auth/internal/common/crypto"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/token"
	userdomain "github.com/AlibekovAA/carai-auth/internal/user/domain"
	userrepo "github.com/AlibekovAA/carai-auth/internal/user/repository"
)

const (
	testSecret   = "test-secret-key-at-least-32-bytes!!"
	testUserID   = "7f1c2a3e-0000-4000-8000-000000000001"
	testAdminID  = "7f1c2a3e-0000-4000-8000-000000000002"
	testPassword = "correct"
)

type mockUserRepo struct {
	createFunc         func(ctx context.Context, user userdomain.User) error
	findByIdentityFunc func(ctx context.Context, identity string) (userdomain.User, error)
	findByIDFunc       func(ctx context.Context, id userdomain.ID) (userdomain.User, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user userdomain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) FindByIdentity(ctx context.Context, identity string) (userdomain.User, error) {
	if m.findByIdentityFunc != nil {
		return m.findByIdentityFunc(ctx, identity)
	}
	return userdomain.User{}, userrepo.ErrUserNotFound
}

func (m *mockUserRepo) FindByID(ctx context.Context, id userdomain.ID) (userdomain.User, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return userdomain.User{}, userrepo.ErrUserNotFound
}

// withUsers answers lookups from a fixed set keyed by username.
func (m *mockUserRepo) withUsers(users ...userdomain.User) *mockUserRepo {
	m.findByIdentityFunc = func(ctx context.Context, identity string) (userdomain.User, error) {
		for _, u := range users {
			if u.Username == identity || u.Email == identity {
				return u, nil
			}
		}
		return userdomain.User{}, userrepo.ErrUserNotFound
	}
	m.findByIDFunc = func(ctx context.Context, id userdomain.ID) (userdomain.User, error) {
		for _, u := range users {
			if u.ID == id {
				return u, nil
			}
		}
		return userdomain.User{}, userrepo.ErrUserNotFound
	}
	return m
}

type mockPasswordVerifier struct {
	hashFunc   func(password string) (string, error)
	verifyFunc func(plaintext, storedHash string) (bool, error)
}

func (m *mockPasswordVerifier) Hash(password string) (string, error) {
	if m.hashFunc != nil {
		return m.hashFunc(password)
	}
	return "hash:" + password, nil
}

func (m *mockPasswordVerifier) Verify(plaintext, storedHash string) (bool, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(plaintext, storedHash)
	}
	return storedHash == "hash:"+plaintext, nil
}

type mockSessionTx struct {
	findByUserIDForUpdateFunc func(ctx context.Context, userID string) (domain.Session, error)
	createFunc                func(ctx context.Context, session domain.Session) (domain.Session, error)
	deleteFunc                func(ctx context.Context, id string) error
}

func (m *mockSessionTx) FindByUserIDForUpdate(ctx context.Context, userID string) (domain.Session, error) {
	if m.findByUserIDForUpdateFunc != nil {
		return m.findByUserIDForUpdateFunc(ctx, userID)
	}
	return domain.Session{}, authrepo.ErrSessionNotFound
}

func (m *mockSessionTx) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, session)
	}
	return session, nil
}

func (m *mockSessionTx) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

type mockTxManager struct {
	tx             *mockSessionTx
	withUserTxFunc func(ctx context.Context, userID string, fn func(context.Context, authrepo.SessionTx) error) error
}

func (m *mockTxManager) WithUserTx(ctx context.Context, userID string, fn func(context.Context, authrepo.SessionTx) error) error {
	if m.withUserTxFunc != nil {
		return m.withUserTxFunc(ctx, userID, fn)
	}
	return fn(ctx, m.tx)
}

type mockSessionRepo struct {
	txManager          *mockTxManager
	createFunc         func(ctx context.Context, session domain.Session) (domain.Session, error)
	findByUserIDFunc   func(ctx context.Context, userID string) (domain.Session, error)
	findByIDFunc       func(ctx context.Context, id string) (domain.Session, error)
	revokeFunc         func(ctx context.Context, id string, now time.Time) error
	revokeByUserIDFunc func(ctx context.Context, userID string, now time.Time) error
	deleteFunc         func(ctx context.Context, id string) error
	deleteExpiredFunc  func(ctx context.Context, now time.Time) (int64, error)
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{txManager: &mockTxManager{tx: &mockSessionTx{}}}
}

func (m *mockSessionRepo) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, session)
	}
	return session, nil
}

func (m *mockSessionRepo) FindByUserID(ctx context.Context, userID string) (domain.Session, error) {
	if m.findByUserIDFunc != nil {
		return m.findByUserIDFunc(ctx, userID)
	}
	return domain.Session{}, authrepo.ErrSessionNotFound
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (domain.Session, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return domain.Session{}, authrepo.ErrSessionNotFound
}

func (m *mockSessionRepo) Revoke(ctx context.Context, id string, now time.Time) error {
	if m.revokeFunc != nil {
		return m.revokeFunc(ctx, id, now)
	}
	return nil
}

func (m *mockSessionRepo) RevokeByUserID(ctx context.Context, userID string, now time.Time) error {
	if m.revokeByUserIDFunc != nil {
		return m.revokeByUserIDFunc(ctx, userID, now)
	}
	return nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.deleteExpiredFunc != nil {
		return m.deleteExpiredFunc(ctx, now)
	}
	return 0, nil
}

func (m *mockSessionRepo) TxManager() authrepo.SessionTxManager {
	return m.txManager
}

type testEnv struct {
	svc      *service.AuthService
	users    *mockUserRepo
	verifier *mockPasswordVerifier
	ids      *sequentialIDs
	tokens   *token.Manager
	clock    *clock.MockClock
}

func testUsers() []userdomain.User {
	return []userdomain.User{
		{ID: testUserID, Username: "alice", Email: "alice@example.com", PasswordHash: "hash:" + testPassword},
		{ID: testAdminID, Username: "root", Email: "root@example.com", PasswordHash: "hash:" + testPassword, IsAdmin: true},
	}
}

func newTestClock() *clock.MockClock {
	return clock.NewMockClock(time.Unix(1_700_000_000, 0).UTC())
}

func setupAuthService(t *testing.T, sessions authrepo.SessionRepository) *testEnv {
	t.Helper()
	return setupAuthServiceWithClock(t, sessions, newTestClock())
}

func setupAuthServiceWithClock(t *testing.T, sessions authrepo.SessionRepository, clk *clock.MockClock) *testEnv {
	t.Helper()

	env := &testEnv{
		users:    (&mockUserRepo{}).withUsers(testUsers()...),
		verifier: &mockPasswordVerifier{},
		ids:      &sequentialIDs{},
		tokens:   token.NewManager(token.Config{Secret: []byte(testSecret)}, commoncrypto.NewUUIDGenerator()),
		clock:    clk,
	}
	env.svc = service.NewAuthService(
		env.users,
		sessions,
		env.verifier,
		env.ids,
		env.tokens,
		env.clock,
		service.Config{
			AccessTokenTTL:  900 * time.Second,
			RefreshTokenTTL: 86400 * time.Second,
		},
		logger.NewWithWriter(io.Discard, "test", "error"),
	)
	return env
}

// sequentialIDs hands out predictable user ids; err, when set, is returned
// instead.
type sequentialIDs struct {
	n   int
	err error
}

func (g *sequentialIDs) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return fmt.Sprintf("7f1c2a3e-0000-4000-8000-1%011d", g.n), nil
}

// setupRedisEnv backs the service with a miniredis session store whose
// server clock follows the service clock.
func setupRedisEnv(t *testing.T) (*testEnv, *authrepo.RedisSessionRepository, *miniredis.Miniredis) {
	t.Helper()

	clk := newTestClock()
	mr := miniredis.RunT(t)
	mr.SetTime(clk.Now())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := authrepo.NewRedisSessionRepository(client, "test")
	return setupAuthServiceWithClock(t, store, clk), store, mr
}

// advance moves both the service clock and the Redis clock, expiring keys.
func advance(clk *clock.MockClock, mr *miniredis.Miniredis, d time.Duration) {
	clk.Advance(d)
	mr.SetTime(clk.Now())
	mr.FastForward(d)
}
