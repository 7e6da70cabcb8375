package domain

import "time"

// AllIdentities is the wildcard user id: revoking it revokes every session.
const AllIdentities = "00000000-0000-0000-0000-000000000000"

type State int

const (
	StateAbsent State = iota
	StateActive
	StateStale
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Session is the persisted refresh record. ID equals the jti of RefreshToken.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"refresh_token"`
	IsRevoked    bool      `json:"is_revoked"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsExpired matches token expiry: the last valid instant is ExpiresAt itself.
func (s Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// State classifies a found row. Use StateOf when the row may be missing.
func (s Session) State(now time.Time) State {
	if s.IsRevoked || s.IsExpired(now) {
		return StateStale
	}
	return StateActive
}

func StateOf(s *Session, now time.Time) State {
	if s == nil {
		return StateAbsent
	}
	return s.State(now)
}
