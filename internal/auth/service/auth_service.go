package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/AlibekovAA/carai-auth/internal/auth/domain"
	authrepo "github.com/AlibekovAA/carai-auth/internal/auth/repository"
	"github.com/AlibekovAA/carai-auth/internal/common/clock"
	"github.com/AlibekovAA/carai-auth/internal/common/constants"
	commoncrypto "github.com/AlibekovAA/carai-auth/internal/common/crypto"
	"github.com/AlibekovAA/carai-auth/internal/common/db"
	"github.com/AlibekovAA/carai-auth/internal/common/logger"
	"github.com/AlibekovAA/carai-auth/internal/token"
	userdomain "github.com/AlibekovAA/carai-auth/internal/user/domain"
	userrepo "github.com/AlibekovAA/carai-auth/internal/user/repository"
)

type TokenManager interface {
	IssueAccessToken(subject string, roles []token.Role, now time.Time, ttl time.Duration, opts ...token.IssueOption) (string, token.Claims, error)
	IssueRefreshToken(subject string, now time.Time, ttl time.Duration) (string, token.Claims, error)
	Verify(raw string, expected token.Type, now time.Time) (token.Claims, error)
	VerifyIgnoringExpiry(raw string, expected token.Type) (token.Claims, error)
	RemainingLifetime(raw string) (int64, error)
}

type Config struct {
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	CircuitBreakerReset     time.Duration
}

// AuthService enforces one live session per identity on top of a
// SessionRepository. It keeps no state of its own between calls.
type AuthService struct {
	users      userrepo.Repository
	sessions   authrepo.SessionRepository
	passwords  commoncrypto.PasswordHasher
	ids        commoncrypto.IDGenerator
	tokens     TokenManager
	clock      clock.Clock
	breaker    *db.DBCircuitBreaker
	log        *logger.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
	// dummyHash is verified against when the identity is unknown, so both
	// branches of a failed login pay for one hash comparison.
	dummyHash string
}

const dummyPassword = "carai-auth-dummy-password"

func NewAuthService(
	users userrepo.Repository,
	sessions authrepo.SessionRepository,
	passwords commoncrypto.PasswordHasher,
	ids commoncrypto.IDGenerator,
	tokens TokenManager,
	clk clock.Clock,
	cfg Config,
	log *logger.Logger,
) *AuthService {
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = constants.DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = constants.DefaultRefreshTokenTTL
	}
	if cfg.CircuitBreakerThreshold <= 0 {
		cfg.CircuitBreakerThreshold = constants.DefaultCircuitBreakerThreshold
	}
	if cfg.CircuitBreakerTimeout <= 0 {
		cfg.CircuitBreakerTimeout = constants.DefaultCircuitBreakerTimeout
	}
	if cfg.CircuitBreakerReset <= 0 {
		cfg.CircuitBreakerReset = constants.DefaultCircuitBreakerReset
	}

	breaker := db.NewDBCircuitBreaker(
		"auth_store",
		int32(cfg.CircuitBreakerThreshold),
		cfg.CircuitBreakerTimeout,
		cfg.CircuitBreakerReset,
		log,
	).Ignore(authrepo.ErrSessionNotFound, userrepo.ErrUserNotFound, userrepo.ErrUserAlreadyExists, token.ErrEncoding)

	dummyHash, err := passwords.Hash(dummyPassword)
	if err != nil {
		log.WithFields(context.Background(), logger.Fields{
			"action": "dummy_hash_failed",
		}).Warnf("unknown-identity logins will skip hash verification: %v", err)
	}

	return &AuthService{
		users:      users,
		sessions:   sessions,
		passwords:  passwords,
		ids:        ids,
		dummyHash:  dummyHash,
		tokens:     tokens,
		clock:      clk,
		breaker:    breaker,
		log:        log,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type RegisterResult struct {
	UserID    string
	Username  string
	Email     string
	IsAdmin   bool
	CreatedAt time.Time
}

type LoginInput struct {
	Identity string
	Password string
}

type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeReused  Outcome = "reused"
)

type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	SessionID        string
	AccessTokenTTL   int64
	RefreshTokenTTL  int64
	ExpiresIn        int64
	TokenType        string
	RefreshExpiresAt time.Time
	Outcome          Outcome
}

type RefreshResult struct {
	AccessToken    string
	AccessTokenTTL int64
	ExpiresIn      int64
	TokenType      string
}

// LogoutInput selects the session by RefreshToken or, failing that, by
// SessionID. A non-empty Subject requires the session to belong to it: a
// foreign refresh token is rejected, a foreign session id is a no-op.
type LogoutInput struct {
	RefreshToken string
	SessionID    string
	Subject      string
}

// Register creates a regular account. It opens no session; the caller logs
// in separately.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.TrimSpace(input.Email)

	s.log.WithFields(ctx, logger.Fields{
		"username": username,
		"action":   "register_attempt",
	}).Info("register attempt")

	if err := userdomain.ValidateNew(username, email, input.Password); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"username": username,
			"action":   "register_validation_failed",
		}).Warnf("register validation failed: %v", err)
		incrementRegistrations(resultInvalidInput)
		return RegisterResult{}, ErrValidation.WithCause(err)
	}

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"username": username,
			"action":   "register_hash_failed",
		}).Errorf("register failed: password hash error: %v", err)
		incrementRegistrations(resultStoreError)
		return RegisterResult{}, ErrStoreFailure.WithCause(err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"username": username,
			"action":   "register_id_generation_failed",
		}).Errorf("register failed: id generation error: %v", err)
		incrementRegistrations(resultStoreError)
		return RegisterResult{}, ErrStoreFailure.WithCause(err)
	}

	now := s.clock.Now()
	user := userdomain.User{
		ID:           userdomain.ID(id),
		Username:     strings.ToLower(username),
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.users.Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, userrepo.ErrUserAlreadyExists) {
			s.log.WithFields(ctx, logger.Fields{
				"username": username,
				"action":   "register_user_exists",
			}).Warn("register failed: already exists")
			incrementRegistrations(resultConflict)
			return RegisterResult{}, userrepo.ErrUserAlreadyExists
		}
		s.log.WithFields(ctx, logger.Fields{
			"username": username,
			"action":   "register_create_failed",
		}).Errorf("register failed: %v", err)
		incrementRegistrations(resultStoreError)
		return RegisterResult{}, storeError(err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"username": user.Username,
		"user_id":  id,
		"action":   "register_success",
	}).Info("register success")
	incrementRegistrations(resultSuccess)

	return RegisterResult{
		UserID:    id,
		Username:  user.Username,
		Email:     user.Email,
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	identity := normalizeIdentity(input.Identity)

	s.log.WithFields(ctx, logger.Fields{
		"identity": identity,
		"action":   "login_attempt",
	}).Info("login attempt")

	if err := validateLoginInput(identity, input.Password); err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"identity": identity,
			"action":   "login_validation_failed",
		}).Warnf("login validation failed: %v", err)
		incrementLogins(resultInvalidInput)
		return LoginResult{}, err
	}

	user, err := s.authenticate(ctx, identity, input.Password)
	if err != nil {
		return LoginResult{}, err
	}

	userID := string(user.ID)
	now := s.clock.Now()

	var (
		session domain.Session
		state   domain.State
	)
	err = s.withUserTx(ctx, userID, func(ctx context.Context, tx authrepo.SessionTx) error {
		current, err := findCurrent(ctx, tx, userID)
		if err != nil {
			return err
		}

		state = domain.StateOf(current, now)
		switch state {
		case domain.StateActive:
			session = *current
			return nil
		case domain.StateStale:
			if err := tx.Delete(ctx, current.ID); err != nil {
				return err
			}
		}

		session, err = s.openSession(ctx, tx, userID, now)
		return err
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "login_session_failed",
		}).Errorf("login failed: session reconciliation error: %v", err)
		incrementLogins(resultStoreError)
		return LoginResult{}, storeError(err)
	}

	observeReconciled("login", state)
	outcome := OutcomeCreated
	switch state {
	case domain.StateActive:
		outcome = OutcomeReused
		incrementSessionsReused()
	case domain.StateStale:
		incrementStaleDeleted()
		incrementSessionsCreated()
	default:
		incrementSessionsCreated()
	}

	access, expiresIn, err := s.issueAccess(user, now)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "login_token_issue_failed",
		}).Errorf("login failed: token issue error: %v", err)
		return LoginResult{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id":    userID,
		"session_id": session.ID,
		"state":      state.String(),
		"outcome":    string(outcome),
		"action":     "login_success",
	}).Info("login success")
	incrementLogins(resultSuccess)

	return LoginResult{
		AccessToken:      access,
		RefreshToken:     session.RefreshToken,
		SessionID:        session.ID,
		AccessTokenTTL:   int64(s.accessTTL / time.Second),
		RefreshTokenTTL:  int64(s.refreshTTL / time.Second),
		ExpiresIn:        expiresIn,
		TokenType:        constants.TokenTypeBearer,
		RefreshExpiresAt: session.ExpiresAt,
		Outcome:          outcome,
	}, nil
}

func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	s.log.WithFields(ctx, logger.Fields{
		"action": "refresh_attempt",
	}).Info("refresh attempt")

	if refreshToken == "" {
		incrementRefreshes(resultInvalidToken)
		return RefreshResult{}, authFailure(errMissingRefreshToken)
	}

	now := s.clock.Now()
	claims, err := s.tokens.Verify(refreshToken, token.Refresh, now)
	if errors.Is(err, token.ErrExpired) {
		return RefreshResult{}, s.rejectExpired(ctx, refreshToken, now, err)
	}
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"action": "refresh_token_invalid",
		}).Warnf("refresh failed: %v", err)
		incrementRefreshes(resultInvalidToken)
		return RefreshResult{}, authFailure(err)
	}

	userID := claims.Subject

	var (
		state     domain.State
		rejection error
	)
	// Rejections are recorded rather than returned so that a stale delete
	// still commits.
	err = s.withUserTx(ctx, userID, func(ctx context.Context, tx authrepo.SessionTx) error {
		rejection = nil

		current, err := findCurrent(ctx, tx, userID)
		if err != nil {
			return err
		}

		state = domain.StateOf(current, now)
		switch state {
		case domain.StateAbsent:
			rejection = errSessionAbsent
		case domain.StateStale:
			if err := tx.Delete(ctx, current.ID); err != nil {
				return err
			}
			rejection = ErrSessionStale
		case domain.StateActive:
			if current.ID != claims.TokenID ||
				subtle.ConstantTimeCompare([]byte(current.RefreshToken), []byte(refreshToken)) != 1 {
				rejection = errRefreshTokenMismatch
			}
		}
		return nil
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_session_failed",
		}).Errorf("refresh failed: session reconciliation error: %v", err)
		incrementRefreshes(resultStoreError)
		return RefreshResult{}, storeError(err)
	}

	observeReconciled("refresh", state)
	if state == domain.StateStale {
		incrementStaleDeleted()
	}

	if rejection != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"state":   state.String(),
			"action":  "refresh_rejected",
		}).Warnf("refresh rejected: %v", rejection)
		incrementRefreshes(resultRejected)
		return RefreshResult{}, authFailure(rejection)
	}

	user, err := s.findUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			s.log.WithFields(ctx, logger.Fields{
				"user_id": userID,
				"action":  "refresh_user_not_found",
			}).Warn("refresh rejected: user not found")
			incrementRefreshes(resultRejected)
			return RefreshResult{}, authFailure(errUserGone)
		}
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_user_lookup_failed",
		}).Errorf("refresh failed: user lookup error: %v", err)
		incrementRefreshes(resultStoreError)
		return RefreshResult{}, storeError(err)
	}

	access, expiresIn, err := s.issueAccess(user, now)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_token_issue_failed",
		}).Errorf("refresh failed: token issue error: %v", err)
		return RefreshResult{}, err
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": userID,
		"action":  "refresh_success",
	}).Info("refresh success")
	incrementRefreshes(resultSuccess)

	return RefreshResult{
		AccessToken:    access,
		AccessTokenTTL: int64(s.accessTTL / time.Second),
		ExpiresIn:      expiresIn,
		TokenType:      constants.TokenTypeBearer,
	}, nil
}

// rejectExpired answers a refresh with an expired token. When the token still
// names the identity's current session, that row is stale and is deleted
// under the identity lock before the rejection is returned.
func (s *AuthService) rejectExpired(ctx context.Context, refreshToken string, now time.Time, expired error) error {
	claims, err := s.tokens.VerifyIgnoringExpiry(refreshToken, token.Refresh)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"action": "refresh_token_invalid",
		}).Warnf("refresh failed: %v", err)
		incrementRefreshes(resultInvalidToken)
		return authFailure(err)
	}

	userID := claims.Subject
	deleted := false
	err = s.withUserTx(ctx, userID, func(ctx context.Context, tx authrepo.SessionTx) error {
		deleted = false

		current, err := findCurrent(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current == nil || current.ID != claims.TokenID || domain.StateOf(current, now) != domain.StateStale {
			return nil
		}
		if err := tx.Delete(ctx, current.ID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_session_failed",
		}).Errorf("refresh failed: stale session cleanup error: %v", err)
		incrementRefreshes(resultStoreError)
		return storeError(err)
	}

	if !deleted {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"action":  "refresh_token_expired",
		}).Warnf("refresh failed: %v", expired)
		incrementRefreshes(resultInvalidToken)
		return authFailure(expired)
	}

	observeReconciled("refresh", domain.StateStale)
	incrementStaleDeleted()
	s.log.WithFields(ctx, logger.Fields{
		"user_id":    userID,
		"session_id": claims.TokenID,
		"state":      domain.StateStale.String(),
		"action":     "refresh_rejected",
	}).Warnf("refresh rejected: %v", expired)
	incrementRefreshes(resultRejected)
	return authFailure(errors.Join(ErrSessionStale, expired))
}

// Logout revokes one session. An expired refresh token is still accepted
// here; only its signature and type are checked.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	var sessionID, owner string

	switch {
	case input.RefreshToken != "":
		claims, err := s.tokens.VerifyIgnoringExpiry(input.RefreshToken, token.Refresh)
		if err != nil {
			s.log.WithFields(ctx, logger.Fields{
				"user_id": input.Subject,
				"action":  "logout_token_invalid",
			}).Warnf("logout failed: %v", err)
			return authFailure(err)
		}
		sessionID, owner = claims.TokenID, claims.Subject

	case input.SessionID != "":
		var session domain.Session
		err := s.breaker.Call(ctx, func(ctx context.Context) error {
			var err error
			session, err = s.sessions.FindByID(ctx, input.SessionID)
			return err
		})
		if errors.Is(err, authrepo.ErrSessionNotFound) {
			s.log.WithFields(ctx, logger.Fields{
				"session_id": input.SessionID,
				"action":     "logout_session_not_found",
			}).Info("logout: no session, nothing to revoke")
			return nil
		}
		if err != nil {
			s.log.WithFields(ctx, logger.Fields{
				"session_id": input.SessionID,
				"action":     "logout_lookup_failed",
			}).Errorf("logout failed: session lookup error: %v", err)
			return storeError(err)
		}
		sessionID, owner = session.ID, session.UserID

	default:
		return ErrValidation.WithCause(errLogoutTarget)
	}

	if input.Subject != "" && owner != input.Subject {
		s.log.WithFields(ctx, logger.Fields{
			"user_id":    input.Subject,
			"session_id": sessionID,
			"action":     "logout_not_owner",
		}).Warn("logout: session belongs to another user")
		// A session id alone must not reveal whether it exists, so it is
		// answered like an unknown id.
		if input.RefreshToken == "" {
			return nil
		}
		return ErrSessionNotOwned
	}

	now := s.clock.Now()
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.sessions.Revoke(ctx, sessionID, now)
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id":    owner,
			"session_id": sessionID,
			"action":     "logout_revoke_failed",
		}).Errorf("logout failed: %v", err)
		return storeError(err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id":    owner,
		"session_id": sessionID,
		"action":     "logout_success",
	}).Info("session revoked")
	incrementRevoked("session")
	return nil
}

// RevokeSession revokes the session of a single identity. Callers must have
// checked the admin role.
func (s *AuthService) RevokeSession(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrValidation.WithCause(errEmptyIdentityID)
	}
	if userID == domain.AllIdentities {
		return ErrValidation.WithCause(errWildcardRevoke)
	}
	return s.revoke(ctx, userID, "user")
}

// RevokeAllSessions revokes every session in the store. Callers must have
// checked the admin role.
func (s *AuthService) RevokeAllSessions(ctx context.Context) error {
	return s.revoke(ctx, domain.AllIdentities, "all")
}

func (s *AuthService) revoke(ctx context.Context, userID, scope string) error {
	now := s.clock.Now()
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.sessions.RevokeByUserID(ctx, userID, now)
	})
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": userID,
			"scope":   scope,
			"action":  "revoke_failed",
		}).Errorf("revoke sessions failed: %v", err)
		return storeError(err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"user_id": userID,
		"scope":   scope,
		"action":  "revoke_success",
	}).Info("sessions revoked")
	incrementRevoked(scope)
	return nil
}

func (s *AuthService) authenticate(ctx context.Context, identity, password string) (userdomain.User, error) {
	var user userdomain.User
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByIdentity(ctx, identity)
		return err
	})
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			if s.dummyHash != "" {
				_, _ = s.passwords.Verify(password, s.dummyHash)
			}
			s.log.WithFields(ctx, logger.Fields{
				"identity": identity,
				"action":   "login_user_not_found",
			}).Warn("login failed: not found")
			incrementLogins(resultInvalidCredentials)
			return userdomain.User{}, authFailure(errInvalidCredentials)
		}
		s.log.WithFields(ctx, logger.Fields{
			"identity": identity,
			"action":   "login_fetch_failed",
		}).Errorf("login failed: %v", err)
		incrementLogins(resultStoreError)
		return userdomain.User{}, storeError(err)
	}

	ok, err := s.passwords.Verify(password, user.PasswordHash)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"user_id": string(user.ID),
			"action":  "login_password_hash_invalid",
		}).Errorf("login failed: stored password hash unusable: %v", err)
		incrementLogins(resultInvalidCredentials)
		return userdomain.User{}, authFailure(err)
	}
	if !ok {
		s.log.WithFields(ctx, logger.Fields{
			"identity": identity,
			"action":   "login_invalid_password",
		}).Warn("login failed: invalid password")
		incrementLogins(resultInvalidCredentials)
		return userdomain.User{}, authFailure(errInvalidCredentials)
	}

	return user, nil
}

func (s *AuthService) findUserByID(ctx context.Context, userID string) (userdomain.User, error) {
	var user userdomain.User
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByID(ctx, userdomain.ID(userID))
		return err
	})
	return user, err
}

func (s *AuthService) withUserTx(ctx context.Context, userID string, fn func(context.Context, authrepo.SessionTx) error) error {
	return s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.sessions.TxManager().WithUserTx(ctx, userID, fn)
	})
}

// openSession mints a refresh token and records it as the identity's session.
// The session id is the token's jti and it expires with the token.
func (s *AuthService) openSession(ctx context.Context, tx authrepo.SessionTx, userID string, now time.Time) (domain.Session, error) {
	refresh, claims, err := s.tokens.IssueRefreshToken(userID, now, s.refreshTTL)
	if err != nil {
		return domain.Session{}, err
	}

	return tx.Create(ctx, domain.Session{
		ID:           claims.TokenID,
		UserID:       userID,
		RefreshToken: refresh,
		ExpiresAt:    time.Unix(claims.ExpiresAt, 0).UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *AuthService) issueAccess(user userdomain.User, now time.Time) (string, int64, error) {
	access, _, err := s.tokens.IssueAccessToken(string(user.ID), rolesFor(user), now, s.accessTTL)
	if err != nil {
		return "", 0, err
	}
	expiresIn, err := s.tokens.RemainingLifetime(access)
	if err != nil {
		return "", 0, err
	}
	return access, expiresIn, nil
}

func findCurrent(ctx context.Context, tx authrepo.SessionTx, userID string) (*domain.Session, error) {
	session, err := tx.FindByUserIDForUpdate(ctx, userID)
	if errors.Is(err, authrepo.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func rolesFor(user userdomain.User) []token.Role {
	if user.IsAdmin {
		return []token.Role{token.RoleAdmin, token.RoleUser}
	}
	return []token.Role{token.RoleUser}
}
