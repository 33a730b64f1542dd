// Package memory provides the process-local user store used by
// storage.driver=memory and by service tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/repository"
)

// UserRepository keeps users in a map guarded by a mutex. Every method holds
// the lock for its whole read-modify-write so the conditional updates are atomic.
type UserRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
	now   func() time.Time
}

// NewUserRepository constructs an empty repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users: make(map[string]domain.User),
		now:   time.Now,
	}
}

// WithClock overrides the clock used for updated_at.
func (r *UserRepository) WithClock(now func() time.Time) *UserRepository {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *UserRepository) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return repository.ErrConflict
	}
	email := domain.NormalizeEmail(user.Email)
	for _, existing := range r.users {
		if domain.NormalizeEmail(existing.Email) == email {
			return repository.ErrConflict
		}
		if user.ExternalIdentityID != nil && existing.ExternalIdentityID != nil && *existing.ExternalIdentityID == *user.ExternalIdentityID {
			return repository.ErrConflict
		}
	}

	r.users[user.ID] = clone(user)
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ptr(user), nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = domain.NormalizeEmail(email)
	return r.find(func(u domain.User) bool { return domain.NormalizeEmail(u.Email) == email })
}

func (r *UserRepository) GetByExternalID(_ context.Context, externalID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.find(func(u domain.User) bool {
		return u.ExternalIdentityID != nil && *u.ExternalIdentityID == externalID
	})
}

func (r *UserRepository) GetByResetTokenHash(_ context.Context, tokenHash string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.find(func(u domain.User) bool {
		return u.PasswordResetTokenHash != nil && *u.PasswordResetTokenHash == tokenHash
	})
}

func (r *UserRepository) Update(_ context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if patch.IsEmpty() {
		return ptr(user), nil
	}

	if externalID, ok := patch.ExternalIdentityID.Get(); ok {
		for otherID, other := range r.users {
			if otherID != id && other.ExternalIdentityID != nil && *other.ExternalIdentityID == externalID {
				return nil, repository.ErrConflict
			}
		}
	}

	user = patch.Apply(user)
	user.UpdatedAt = r.now().UTC()
	r.users[id] = clone(user)
	return ptr(user), nil
}

func (r *UserRepository) RecordLoginFailure(_ context.Context, id string, maxAttempts int, lockedUntil time.Time) (domain.LoginFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.Status != domain.AuthStatusActive {
		return domain.LoginFailure{}, repository.ErrNotFound
	}

	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= maxAttempts {
		until := lockedUntil.UTC()
		user.Status = domain.AuthStatusLocked
		user.LockedUntil = &until
	}
	user.UpdatedAt = r.now().UTC()
	r.users[id] = user

	return domain.LoginFailure{
		Attempts: user.FailedLoginAttempts,
		Locked:   user.Status == domain.AuthStatusLocked,
	}, nil
}

func (r *UserRepository) ClearLoginFailures(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.Status != domain.AuthStatusActive {
		return nil, repository.ErrNotFound
	}
	if user.FailedLoginAttempts == 0 && user.LockedUntil == nil {
		return ptr(user), nil
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.UpdatedAt = r.now().UTC()
	r.users[id] = clone(user)
	return ptr(user), nil
}

func (r *UserRepository) ConsumeVerificationToken(_ context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, err := r.find(func(u domain.User) bool {
		return u.EmailVerificationTokenHash != nil && *u.EmailVerificationTokenHash == tokenHash &&
			u.EmailVerificationExpiresAt != nil && u.EmailVerificationExpiresAt.After(now)
	})
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}
	if user.Status == domain.AuthStatusUnverified {
		user.Status = domain.AuthStatusActive
	}
	user.EmailVerificationTokenHash = nil
	user.EmailVerificationExpiresAt = nil
	user.UpdatedAt = now
	r.users[user.ID] = clone(*user)

	return user, nil
}

func (r *UserRepository) ConsumeResetToken(_ context.Context, tokenHash string, passwordHash string, now time.Time) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, err := r.find(func(u domain.User) bool {
		return u.PasswordResetTokenHash != nil && *u.PasswordResetTokenHash == tokenHash &&
			u.PasswordResetExpiresAt != nil && u.PasswordResetExpiresAt.After(now)
	})
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	user.PasswordHash = &passwordHash
	user.Status = domain.AuthStatusActive
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.PasswordResetTokenHash = nil
	user.PasswordResetExpiresAt = nil
	user.EmailVerificationTokenHash = nil
	user.EmailVerificationExpiresAt = nil
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}
	user.UpdatedAt = now
	r.users[user.ID] = clone(*user)

	return user, nil
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// find must be called with mu held.
func (r *UserRepository) find(match func(domain.User) bool) (*domain.User, error) {
	for _, user := range r.users {
		if match(user) {
			return ptr(user), nil
		}
	}
	return nil, repository.ErrNotFound
}

func ptr(user domain.User) *domain.User {
	c := clone(user)
	return &c
}

// clone copies the pointer fields so callers never alias stored state.
func clone(user domain.User) domain.User {
	user.PasswordHash = cloneValue(user.PasswordHash)
	user.ExternalIdentityID = cloneValue(user.ExternalIdentityID)
	user.LockedUntil = cloneValue(user.LockedUntil)
	user.PasswordResetTokenHash = cloneValue(user.PasswordResetTokenHash)
	user.PasswordResetExpiresAt = cloneValue(user.PasswordResetExpiresAt)
	user.EmailVerificationTokenHash = cloneValue(user.EmailVerificationTokenHash)
	user.EmailVerificationExpiresAt = cloneValue(user.EmailVerificationExpiresAt)
	user.EmailVerifiedAt = cloneValue(user.EmailVerifiedAt)
	return user
}

func cloneValue[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ port.UserRepository = (*UserRepository)(nil)
