package models

import "time"

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == UserRoleUser || r == UserRoleAdmin
}

// User is the single persisted aggregate. PasswordHash and RefreshTokens are
// only populated by explicit credential reads; default repository reads leave
// them zero.
type User struct {
	ID            string
	Email         string
	PasswordHash  []byte
	Role          UserRole
	IsVerified    bool
	RefreshTokens []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TokenPair is never persisted as a unit; only the refresh string is stored,
// inside the owning user's RefreshTokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
