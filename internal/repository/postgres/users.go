package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/repository"
)

const usersTable = "users"

var userColumns = []string{
	"id",
	"email",
	"password_hash",
	"external_identity_id",
	"status",
	"failed_login_attempts",
	"locked_until",
	"password_reset_token_hash",
	"password_reset_expires_at",
	"email_verification_token_hash",
	"email_verification_expires_at",
	"email_verified_at",
	"created_at",
	"updated_at",
}

var returningUser = "RETURNING " + strings.Join(userColumns, ", ")

const recordLoginFailureSQL = `UPDATE users SET
	failed_login_attempts = failed_login_attempts + 1,
	status = CASE WHEN failed_login_attempts + 1 >= $2::int THEN 'locked' ELSE status END,
	locked_until = CASE WHEN failed_login_attempts + 1 >= $2::int THEN $3::timestamptz ELSE locked_until END,
	updated_at = $4
WHERE id = $1 AND status = 'active'
RETURNING failed_login_attempts, status`

const clearLoginFailuresSQL = `UPDATE users SET
	updated_at = CASE WHEN failed_login_attempts <> 0 OR locked_until IS NOT NULL THEN $2 ELSE updated_at END,
	failed_login_attempts = 0,
	locked_until = NULL
WHERE id = $1 AND status = 'active'
`

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewUserRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for updated_at.
func (r *UserRepository) WithClock(now func() time.Time) *UserRepository {
	if now != nil {
		r.now = now
	}
	return r
}

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert(usersTable).
		Columns(userColumns...).
		Values(
			user.ID,
			user.Email,
			stringArg(user.PasswordHash),
			stringArg(user.ExternalIdentityID),
			string(user.Status),
			user.FailedLoginAttempts,
			timeArg(user.LockedUntil),
			stringArg(user.PasswordResetTokenHash),
			timeArg(user.PasswordResetExpiresAt),
			stringArg(user.EmailVerificationTokenHash),
			timeArg(user.EmailVerificationExpiresAt),
			timeArg(user.EmailVerifiedAt),
			user.CreatedAt.UTC(),
			user.UpdatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", repository.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, "by id")
}

// GetByEmail retrieves a user by normalized email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"email": domain.NormalizeEmail(email)}, "by email")
}

// GetByExternalID retrieves a user by the subject id of a linked provider identity.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"external_identity_id": externalID}, "by external id")
}

// GetByResetTokenHash retrieves the holder of a password reset token hash.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"password_reset_token_hash": tokenHash}, "by reset token")
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Sqlizer, label string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From(usersTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user %s sql: %w", label, err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan user %s: %w", label, err)
	}
	return user, nil
}

// Update writes the supplied patch fields in one statement and returns the updated row.
func (r *UserRepository) Update(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	query := r.builder.Update(usersTable)
	query = setOptional(query, "password_hash", patch.PasswordHash)
	query = setOptional(query, "external_identity_id", patch.ExternalIdentityID)
	if patch.Status.IsSet() {
		status, _ := patch.Status.Get()
		query = query.Set("status", string(status))
	}
	if patch.FailedLoginAttempts.IsSet() {
		attempts, _ := patch.FailedLoginAttempts.Get()
		query = query.Set("failed_login_attempts", attempts)
	}
	query = setOptionalTime(query, "locked_until", patch.LockedUntil)
	query = setOptional(query, "password_reset_token_hash", patch.PasswordResetTokenHash)
	query = setOptionalTime(query, "password_reset_expires_at", patch.PasswordResetExpiresAt)
	query = setOptional(query, "email_verification_token_hash", patch.EmailVerificationTokenHash)
	query = setOptionalTime(query, "email_verification_expires_at", patch.EmailVerificationExpiresAt)
	query = setOptionalTime(query, "email_verified_at", patch.EmailVerifiedAt)

	stmt, args, err := query.
		Set("updated_at", r.now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Suffix(returningUser).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update user: %w", repository.ErrConflict)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// RecordLoginFailure increments the counter of an active account and locks it
// at maxAttempts. Accounts that are not active yield ErrNotFound.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockedUntil time.Time) (domain.LoginFailure, error) {
	var (
		attempts int
		status   string
	)

	err := r.exec.QueryRow(ctx, recordLoginFailureSQL, id, maxAttempts, lockedUntil.UTC(), r.now().UTC()).Scan(&attempts, &status)
	if err != nil {
		if isNoRows(err) {
			return domain.LoginFailure{}, repository.ErrNotFound
		}
		return domain.LoginFailure{}, fmt.Errorf("record login failure: %w", err)
	}

	return domain.LoginFailure{
		Attempts: attempts,
		Locked:   domain.AuthStatus(status) == domain.AuthStatusLocked,
	}, nil
}

// ClearLoginFailures resets the counter and lock deadline of an active account.
// The status check runs in the same statement, so a lock taken after the caller
// read the row makes this yield ErrNotFound rather than an unlocked account.
func (r *UserRepository) ClearLoginFailures(ctx context.Context, id string) (*domain.User, error) {
	user, err := scanUser(r.exec.QueryRow(ctx, clearLoginFailuresSQL+returningUser, id, r.now().UTC()))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("clear login failures: %w", err)
	}
	return user, nil
}

// ConsumeVerificationToken verifies the owner of an unexpired token and clears it.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	now = now.UTC()

	stmt, args, err := r.builder.Update(usersTable).
		Set("email_verified_at", squirrel.Expr("COALESCE(email_verified_at, ?)", now)).
		Set("status", squirrel.Expr("CASE WHEN status = ? THEN ? ELSE status END", string(domain.AuthStatusUnverified), string(domain.AuthStatusActive))).
		Set("email_verification_token_hash", nil).
		Set("email_verification_expires_at", nil).
		Set("updated_at", now).
		Where(squirrel.Eq{"email_verification_token_hash": tokenHash}).
		Where(squirrel.Gt{"email_verification_expires_at": now}).
		Suffix(returningUser).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume verification token sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	return user, nil
}

// ConsumeResetToken sets a new password for the owner of an unexpired reset token,
// unlocks and verifies the account, and clears both ephemeral tokens.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, passwordHash string, now time.Time) (*domain.User, error) {
	now = now.UTC()

	stmt, args, err := r.builder.Update(usersTable).
		Set("password_hash", passwordHash).
		Set("status", string(domain.AuthStatusActive)).
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("password_reset_token_hash", nil).
		Set("password_reset_expires_at", nil).
		Set("email_verification_token_hash", nil).
		Set("email_verification_expires_at", nil).
		Set("email_verified_at", squirrel.Expr("COALESCE(email_verified_at, ?)", now)).
		Set("updated_at", now).
		Where(squirrel.Eq{"password_reset_token_hash": tokenHash}).
		Where(squirrel.Gt{"password_reset_expires_at": now}).
		Suffix(returningUser).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume reset token sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return user, nil
}

// Delete removes the user. Owned projects, submissions and messages go with it
// through ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete(usersTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete user sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func setOptional(query squirrel.UpdateBuilder, column string, value domain.Optional[string]) squirrel.UpdateBuilder {
	if !value.IsSet() {
		return query
	}
	return query.Set(column, stringArg(value.Ptr()))
}

func setOptionalTime(query squirrel.UpdateBuilder, column string, value domain.Optional[time.Time]) squirrel.UpdateBuilder {
	if !value.IsSet() {
		return query
	}
	return query.Set(column, timeArg(value.Ptr()))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user                  domain.User
		status                string
		passwordHash          sql.NullString
		externalID            sql.NullString
		lockedUntil           sql.NullTime
		resetTokenHash        sql.NullString
		resetExpiresAt        sql.NullTime
		verificationTokenHash sql.NullString
		verificationExpiresAt sql.NullTime
		emailVerifiedAt       sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&passwordHash,
		&externalID,
		&status,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&resetTokenHash,
		&resetExpiresAt,
		&verificationTokenHash,
		&verificationExpiresAt,
		&emailVerifiedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	user.Status = domain.AuthStatus(status)
	user.PasswordHash = nullableStringPtr(passwordHash)
	user.ExternalIdentityID = nullableStringPtr(externalID)
	user.LockedUntil = nullableTimePtr(lockedUntil)
	user.PasswordResetTokenHash = nullableStringPtr(resetTokenHash)
	user.PasswordResetExpiresAt = nullableTimePtr(resetExpiresAt)
	user.EmailVerificationTokenHash = nullableStringPtr(verificationTokenHash)
	user.EmailVerificationExpiresAt = nullableTimePtr(verificationExpiresAt)
	user.EmailVerifiedAt = nullableTimePtr(emailVerifiedAt)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()

	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
