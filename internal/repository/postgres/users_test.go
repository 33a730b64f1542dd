package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/repository"
)

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newMockRepository(t *testing.T) (pgxmock.PgxPoolIface, *UserRepository) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	repo := NewUserRepository(mock).WithClock(func() time.Time { return fixedNow })
	return mock, repo
}

func userRows() *pgxmock.Rows {
	return pgxmock.NewRows(userColumns)
}

func TestUserRepository_Create(t *testing.T) {
	mock, repo := newMockRepository(t)

	hash := "$2b$12$hash"
	tokenHash := "token-hash"
	expires := fixedNow.Add(24 * time.Hour)
	user := domain.User{
		ID:                         "user-1",
		Email:                      "a@x.com",
		PasswordHash:               &hash,
		Status:                     domain.AuthStatusUnverified,
		EmailVerificationTokenHash: &tokenHash,
		EmailVerificationExpiresAt: &expires,
		CreatedAt:                  fixedNow,
		UpdatedAt:                  fixedNow,
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(
			"user-1",
			"a@x.com",
			hash,
			nil,
			"unverified",
			0,
			nil,
			nil,
			nil,
			tokenHash,
			expires,
			nil,
			fixedNow,
			fixedNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_idx"})

	err := repo.Create(context.Background(), domain.User{ID: "user-1", Email: "a@x.com", Status: domain.AuthStatusUnverified})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUserRepository_GetByEmail(t *testing.T) {
	mock, repo := newMockRepository(t)

	verifiedAt := fixedNow.Add(-time.Hour)
	rows := userRows().AddRow(
		"user-1", "a@x.com", "$2b$12$hash", nil, "active", 2, nil, nil, nil, nil, nil, verifiedAt, fixedNow, fixedNow,
	)

	mock.ExpectQuery(`SELECT .* FROM users WHERE email = \$1 LIMIT 1`).
		WithArgs("a@x.com").
		WillReturnRows(rows)

	user, err := repo.GetByEmail(context.Background(), "  A@X.com ")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if user.ID != "user-1" || user.Status != domain.AuthStatusActive {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.FailedLoginAttempts != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", user.FailedLoginAttempts)
	}
	if !user.HasPassword() || user.ExternalIdentityID != nil {
		t.Fatalf("expected password account without external id")
	}
	if user.EmailVerifiedAt == nil || !user.EmailVerifiedAt.Equal(verifiedAt) {
		t.Fatalf("expected verified timestamp to match")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByResetTokenHash(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE password_reset_token_hash = \$1 LIMIT 1`).
		WithArgs("reset-hash").
		WillReturnRows(userRows().AddRow(
			"user-1", "a@x.com", "hash", nil, "active", 0, nil,
			"reset-hash", fixedNow.Add(time.Hour), nil, nil, fixedNow, fixedNow, fixedNow,
		))

	user, err := repo.GetByResetTokenHash(context.Background(), "reset-hash")
	if err != nil {
		t.Fatalf("GetByResetTokenHash returned error: %v", err)
	}
	if user.Email != "a@x.com" {
		t.Fatalf("unexpected user %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByIDNotFound(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_UpdateWritesOnlySuppliedFields(t *testing.T) {
	mock, repo := newMockRepository(t)

	rows := userRows().AddRow(
		"user-1", "a@x.com", "$2b$12$hash", nil, "active", 0, nil, nil, nil, nil, nil, fixedNow, fixedNow, fixedNow,
	)

	mock.ExpectQuery(`UPDATE users SET status = \$1, failed_login_attempts = \$2, locked_until = \$3, updated_at = \$4 WHERE id = \$5 RETURNING`).
		WithArgs("active", 0, nil, fixedNow, "user-1").
		WillReturnRows(rows)

	patch := domain.UserPatch{
		Status:              domain.Some(domain.AuthStatusActive),
		FailedLoginAttempts: domain.Some(0),
		LockedUntil:         domain.Null[time.Time](),
	}

	user, err := repo.Update(context.Background(), "user-1", patch)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if user.LockedUntil != nil {
		t.Fatalf("expected lock to be cleared")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_RecordLoginFailure(t *testing.T) {
	mock, repo := newMockRepository(t)

	lockedUntil := fixedNow.Add(time.Hour)
	mock.ExpectQuery(`UPDATE users SET\s+failed_login_attempts = failed_login_attempts \+ 1`).
		WithArgs("user-1", 5, lockedUntil, fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "status"}).AddRow(5, "locked"))

	failure, err := repo.RecordLoginFailure(context.Background(), "user-1", 5, lockedUntil)
	if err != nil {
		t.Fatalf("RecordLoginFailure returned error: %v", err)
	}
	if failure.Attempts != 5 || !failure.Locked {
		t.Fatalf("expected locking failure, got %+v", failure)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_RecordLoginFailureInactiveAccount(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectQuery(`UPDATE users SET`).
		WithArgs("user-1", 5, pgxmock.AnyArg(), fixedNow).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.RecordLoginFailure(context.Background(), "user-1", 5, fixedNow); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_ClearLoginFailures(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectQuery(`(?s)UPDATE users SET.+failed_login_attempts = 0,\s+locked_until = NULL\s+WHERE id = \$1 AND status = 'active'`).
		WithArgs("user-1", fixedNow).
		WillReturnRows(userRows().AddRow(
			"user-1", "a@x.com", "hash", nil, "active", 0, nil,
			nil, nil, nil, nil, fixedNow, fixedNow, fixedNow,
		))

	user, err := repo.ClearLoginFailures(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ClearLoginFailures returned error: %v", err)
	}
	if user.FailedLoginAttempts != 0 || user.LockedUntil != nil {
		t.Fatalf("expected cleared counters, got %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_ClearLoginFailuresLockedAccount(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectQuery(`UPDATE users SET`).
		WithArgs("user-1", fixedNow).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.ClearLoginFailures(context.Background(), "user-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_ConsumeResetToken(t *testing.T) {
	mock, repo := newMockRepository(t)

	rows := userRows().AddRow(
		"user-1", "a@x.com", "new-hash", nil, "active", 0, nil, nil, nil, nil, nil, fixedNow, fixedNow, fixedNow,
	)

	mock.ExpectQuery(`UPDATE users SET password_hash = \$1, .* WHERE password_reset_token_hash = \$11 AND password_reset_expires_at > \$12 RETURNING`).
		WithArgs("new-hash", "active", 0, nil, nil, nil, nil, nil, fixedNow, fixedNow, "reset-hash", fixedNow).
		WillReturnRows(rows)

	user, err := repo.ConsumeResetToken(context.Background(), "reset-hash", "new-hash", fixedNow)
	if err != nil {
		t.Fatalf("ConsumeResetToken returned error: %v", err)
	}
	if user.PasswordResetTokenHash != nil || user.Status != domain.AuthStatusActive {
		t.Fatalf("unexpected user after reset %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_ConsumeVerificationTokenExpired(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectQuery(`UPDATE users SET email_verified_at = COALESCE\(email_verified_at, \$1\)`).
		WithArgs(fixedNow, "unverified", "active", nil, nil, fixedNow, "verify-hash", fixedNow).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.ConsumeVerificationToken(context.Background(), "verify-hash", fixedNow); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_Delete(t *testing.T) {
	mock, repo := newMockRepository(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := repo.Delete(context.Background(), "user-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := repo.Delete(context.Background(), "user-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
