package domain

import "time"

// Account event types published to the event stream.
const (
	EventAccountRegistered     = "account.registered"
	EventAccountVerified       = "account.verified"
	EventAccountLocked         = "account.locked"
	EventAccountPasswordReset  = "account.password_reset"
	EventAccountDeleted        = "account.deleted"
	EventAccountExternalLinked = "account.external_linked"
)

// AccountRegisteredEvent represents the payload for account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	UserID       string
	Email        string
	Method       string
	Status       AuthStatus
	RegisteredAt time.Time
}

// AccountVerifiedEvent represents the payload for account.verified messages.
type AccountVerifiedEvent struct {
	EventID    string
	UserID     string
	VerifiedAt time.Time
}

// AccountLockedEvent represents the payload for account.locked messages.
type AccountLockedEvent struct {
	EventID        string
	UserID         string
	FailedAttempts int
	LockedAt       time.Time
	LockedUntil    *time.Time
}

// PasswordResetEvent represents the payload for account.password_reset messages.
type PasswordResetEvent struct {
	EventID string
	UserID  string
	ResetAt time.Time
}

// AccountDeletedEvent represents the payload for account.deleted messages.
type AccountDeletedEvent struct {
	EventID   string
	UserID    string
	DeletedAt time.Time
}

// ExternalIdentityLinkedEvent represents the payload for account.external_linked messages.
type ExternalIdentityLinkedEvent struct {
	EventID  string
	UserID   string
	Provider string
	Created  bool
	LinkedAt time.Time
}
