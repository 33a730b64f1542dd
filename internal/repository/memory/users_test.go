package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/repository"
)

func strPtr(s string) *string { return &s }

func seedUser(t *testing.T, repo *UserRepository, id, email string, status domain.AuthStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repo.Create(context.Background(), domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: strPtr("hash"),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func TestCreateRejectsDuplicateEmailIgnoringCase(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)

	err := repo.Create(context.Background(), domain.User{ID: "u2", Email: "A@X.COM", Status: domain.AuthStatusActive})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestReturnedUsersDoNotAliasStoredState(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	*user.PasswordHash = "mutated"

	again, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", *again.PasswordHash)
}

func TestRecordLoginFailureLocksAtThreshold(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)
	until := time.Now().Add(time.Hour)

	for i := 1; i < 5; i++ {
		failure, err := repo.RecordLoginFailure(context.Background(), "u1", 5, until)
		require.NoError(t, err)
		assert.Equal(t, i, failure.Attempts)
		assert.False(t, failure.Locked)
	}

	failure, err := repo.RecordLoginFailure(context.Background(), "u1", 5, until)
	require.NoError(t, err)
	assert.Equal(t, 5, failure.Attempts)
	assert.True(t, failure.Locked)

	_, err = repo.RecordLoginFailure(context.Background(), "u1", 5, until)
	assert.ErrorIs(t, err, repository.ErrNotFound, "locked accounts are not counted further")

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStatusLocked, user.Status)
	require.NotNil(t, user.LockedUntil)
}

func TestClearLoginFailuresOnlyTouchesActiveAccounts(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)
	until := time.Now().Add(time.Hour)

	for i := 0; i < 3; i++ {
		_, err := repo.RecordLoginFailure(context.Background(), "u1", 5, until)
		require.NoError(t, err)
	}
	user, err := repo.ClearLoginFailures(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, user.FailedLoginAttempts)
	assert.Nil(t, user.LockedUntil)

	for i := 0; i < 5; i++ {
		_, err := repo.RecordLoginFailure(context.Background(), "u1", 5, until)
		require.NoError(t, err)
	}
	_, err = repo.ClearLoginFailures(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound, "a locked account is not cleared")

	stored, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStatusLocked, stored.Status)
	assert.Equal(t, 5, stored.FailedLoginAttempts)
	require.NotNil(t, stored.LockedUntil)

	_, err = repo.ClearLoginFailures(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordLoginFailureConcurrentAttemptsNeverLoseIncrements(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)

	const workers = 50
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			failure, err := repo.RecordLoginFailure(context.Background(), "u1", 1000, time.Now().Add(time.Hour))
			if err == nil && failure.Locked {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, workers, user.FailedLoginAttempts)
	assert.Zero(t, locked)
}

func TestRecordLoginFailureConcurrentLockHappensOnce(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)

	const workers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		locked int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			failure, err := repo.RecordLoginFailure(context.Background(), "u1", 5, time.Now().Add(time.Hour))
			if err == nil && failure.Locked {
				mu.Lock()
				locked++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	user, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, user.FailedLoginAttempts)
	assert.Equal(t, 1, locked)
}

func TestConsumeVerificationTokenIsSingleUse(t *testing.T) {
	repo := NewUserRepository()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(24 * time.Hour)

	require.NoError(t, repo.Create(context.Background(), domain.User{
		ID:                         "u1",
		Email:                      "a@x.com",
		PasswordHash:               strPtr("hash"),
		Status:                     domain.AuthStatusUnverified,
		EmailVerificationTokenHash: strPtr("vhash"),
		EmailVerificationExpiresAt: &expires,
	}))

	user, err := repo.ConsumeVerificationToken(context.Background(), "vhash", now)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStatusActive, user.Status)
	assert.True(t, user.IsVerified())
	assert.Nil(t, user.EmailVerificationTokenHash)

	_, err = repo.ConsumeVerificationToken(context.Background(), "vhash", now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestConsumeResetTokenRejectsExpired(t *testing.T) {
	repo := NewUserRepository()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	require.NoError(t, repo.Create(context.Background(), domain.User{
		ID:                     "u1",
		Email:                  "a@x.com",
		PasswordHash:           strPtr("hash"),
		Status:                 domain.AuthStatusLocked,
		FailedLoginAttempts:    5,
		LockedUntil:            &expires,
		PasswordResetTokenHash: strPtr("rhash"),
		PasswordResetExpiresAt: &expires,
	}))

	_, err := repo.ConsumeResetToken(context.Background(), "rhash", "new", expires)
	assert.ErrorIs(t, err, repository.ErrNotFound, "token expiring exactly now is invalid")

	user, err := repo.ConsumeResetToken(context.Background(), "rhash", "new", now)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthStatusActive, user.Status)
	assert.Zero(t, user.FailedLoginAttempts)
	assert.Nil(t, user.LockedUntil)
	assert.Equal(t, "new", *user.PasswordHash)
	assert.True(t, user.IsVerified())
}

func TestUpdateRejectsTakenExternalID(t *testing.T) {
	repo := NewUserRepository()
	require.NoError(t, repo.Create(context.Background(), domain.User{ID: "u1", Email: "a@x.com", ExternalIdentityID: strPtr("google-1"), Status: domain.AuthStatusActive}))
	seedUser(t, repo, "u2", "b@x.com", domain.AuthStatusActive)

	_, err := repo.Update(context.Background(), "u2", domain.UserPatch{ExternalIdentityID: domain.Some("google-1")})
	assert.ErrorIs(t, err, repository.ErrConflict)

	found, err := repo.GetByExternalID(context.Background(), "google-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", found.ID)
}

func TestDelete(t *testing.T) {
	repo := NewUserRepository()
	seedUser(t, repo, "u1", "a@x.com", domain.AuthStatusActive)

	require.NoError(t, repo.Delete(context.Background(), "u1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "u1"), repository.ErrNotFound)
	_, err := repo.GetByID(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
