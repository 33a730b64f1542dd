package port

import (
	"context"
	"time"

	"github.com/toolme/marketplace-api/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	// GetByResetTokenHash finds the holder of a password reset token hash, expired or not.
	GetByResetTokenHash(ctx context.Context, tokenHash string) (*domain.User, error)
	Update(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error)
	// RecordLoginFailure increments the failure counter of an active account and
	// locks it with lockedUntil once the counter reaches maxAttempts, in one atomic step.
	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (domain.LoginFailure, error)
	// ClearLoginFailures zeroes the failure counter and lock deadline of an active
	// account. A missing or no longer active account yields ErrNotFound.
	ClearLoginFailures(ctx context.Context, id string) (*domain.User, error)
	// ConsumeVerificationToken marks the owner of an unexpired token hash as
	// verified and clears the token. A consumed or expired token yields ErrNotFound.
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)
	// ConsumeResetToken sets passwordHash for the owner of an unexpired token hash,
	// clears the token, counters and lock. A consumed or expired token yields ErrNotFound.
	ConsumeResetToken(ctx context.Context, tokenHash string, passwordHash string, now time.Time) (*domain.User, error)
	Delete(ctx context.Context, id string) error
}
