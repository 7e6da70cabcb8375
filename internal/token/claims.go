package token

import "slices"

type Type string

const (
	Access  Type = "access"
	Refresh Type = "refresh"
)

func (t Type) Valid() bool {
	return t == Access || t == Refresh
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Claims is the decoded token payload. Times are Unix seconds.
type Claims struct {
	Subject   string
	IssuedAt  int64
	ExpiresAt int64
	TokenType Type
	TokenID   string
	Roles     []Role
	Scopes    []string
}

func (c Claims) HasRole(role Role) bool {
	return slices.Contains(c.Roles, role)
}

func (c Claims) IsAdmin() bool {
	return c.HasRole(RoleAdmin)
}

// Lifetime is ExpiresAt - IssuedAt in seconds.
func (c Claims) Lifetime() int64 {
	return c.ExpiresAt - c.IssuedAt
}
