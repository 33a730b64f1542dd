package domain

import (
	"strings"
	"time"
)

// AuthStatus enumerates the authentication states of an account.
type AuthStatus string

const (
	AuthStatusUnverified AuthStatus = "unverified"
	AuthStatusActive     AuthStatus = "active"
	AuthStatusLocked     AuthStatus = "locked"
)

// Valid reports whether s is one of the known states.
func (s AuthStatus) Valid() bool {
	switch s {
	case AuthStatusUnverified, AuthStatusActive, AuthStatusLocked:
		return true
	}
	return false
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID                         string
	Email                      string
	PasswordHash               *string
	ExternalIdentityID         *string
	Status                     AuthStatus
	FailedLoginAttempts        int
	LockedUntil                *time.Time
	PasswordResetTokenHash     *string
	PasswordResetExpiresAt     *time.Time
	EmailVerificationTokenHash *string
	EmailVerificationExpiresAt *time.Time
	EmailVerifiedAt            *time.Time
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IsVerified reports whether the email address has been confirmed.
func (u User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// LoginFailure is the outcome of atomically recording a wrong-password attempt.
type LoginFailure struct {
	Attempts int
	Locked   bool
}

// ExternalIdentity is an identity asserted by a third-party provider after it
// verified the credential itself.
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}

// NormalizeEmail trims and lower-cases an address before storage or lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
