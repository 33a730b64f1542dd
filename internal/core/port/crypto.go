package port

import "time"

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify reports whether password matches encoded. Malformed input is a mismatch.
	Verify(password string, encoded string) bool
}

// PasswordPolicy enforces password strength requirements. userInputs carry
// account data (such as the email) that must not make the password guessable.
type PasswordPolicy interface {
	Validate(password string, userInputs ...string) error
}

// SessionClaims are the identity claims carried by a session token.
type SessionClaims struct {
	Subject   string
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssuedToken is a signed session token together with its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// SessionTokenIssuer creates and validates signed session tokens.
type SessionTokenIssuer interface {
	Issue(userID, email string) (IssuedToken, error)
	Decode(token string) (*SessionClaims, error)
	TTL() time.Duration
}
