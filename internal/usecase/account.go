package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/infra/logger"
	"github.com/toolme/marketplace-api/internal/repository"
)

// DeleteAccount removes the account of userID. Accounts with a password must
// confirm it; owned projects, submissions and messages cascade in the store.
func (s *AuthService) DeleteAccount(ctx context.Context, userID, password string) (err error) {
	defer func() { s.observe("delete_account", err) }()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if user.HasPassword() {
		if password == "" {
			return ErrPasswordRequired
		}
		if !s.hasher.Verify(password, *user.PasswordHash) {
			return ErrInvalidCredentials
		}
	}

	if err := s.users.Delete(ctx, user.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("delete user: %w", err)
	}

	s.logger.Info("account deleted", zap.String("user_id", user.ID))
	s.published(domain.EventAccountDeleted, s.events.PublishAccountDeleted(ctx, domain.AccountDeletedEvent{
		UserID:    user.ID,
		DeletedAt: s.now().UTC(),
	}))
	return nil
}

// ExternalSignIn signs in with an identity a provider already verified. A
// known external id signs in directly; otherwise the verified email is linked
// to an existing account or a new password-less account is created.
func (s *AuthService) ExternalSignIn(ctx context.Context, identity domain.ExternalIdentity) (session *Session, err error) {
	defer func() { s.observe("external_sign_in", err) }()

	if identity.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	now := s.now().UTC()

	user, err := s.users.GetByExternalID(ctx, identity.Subject)
	switch {
	case err == nil:
		if user, err = s.ensureUnlocked(ctx, user, now); err != nil {
			return nil, err
		}
		return s.issueSession(*user)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup external identity: %w", err)
	}

	email := domain.NormalizeEmail(identity.Email)
	if !identity.EmailVerified || validateEmail(email) != nil {
		return nil, ErrExternalEmailUnverified
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		user, err = s.linkExternalIdentity(ctx, existing, identity, now)
	case errors.Is(err, repository.ErrNotFound):
		user, err = s.createExternalAccount(ctx, email, identity, now)
	default:
		err = fmt.Errorf("lookup user: %w", err)
	}
	if err != nil {
		return nil, err
	}

	return s.issueSession(*user)
}

func (s *AuthService) linkExternalIdentity(ctx context.Context, existing *domain.User, identity domain.ExternalIdentity, now time.Time) (*domain.User, error) {
	if existing.ExternalIdentityID != nil && *existing.ExternalIdentityID != identity.Subject {
		return nil, ErrExternalIdentityConflict
	}
	existing, err := s.ensureUnlocked(ctx, existing, now)
	if err != nil {
		return nil, err
	}

	patch := domain.UserPatch{ExternalIdentityID: domain.Some(identity.Subject)}
	if existing.Status == domain.AuthStatusUnverified {
		// The mailbox owner never confirmed this password; drop it on takeover.
		patch.PasswordHash = domain.Null[string]()
		patch.Status = domain.Some(domain.AuthStatusActive)
		patch.EmailVerificationTokenHash = domain.Null[string]()
		patch.EmailVerificationExpiresAt = domain.Null[time.Time]()
	}
	if !existing.IsVerified() {
		patch.EmailVerifiedAt = domain.Some(now)
	}

	user, err := s.users.Update(ctx, existing.ID, patch)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrExternalIdentityConflict
		}
		return nil, fmt.Errorf("link external identity: %w", err)
	}

	s.logger.Info("external identity linked",
		zap.String("user_id", user.ID),
		zap.String("provider", identity.Provider),
	)
	s.published(domain.EventAccountExternalLinked, s.events.PublishExternalIdentityLinked(ctx, domain.ExternalIdentityLinkedEvent{
		UserID:   user.ID,
		Provider: identity.Provider,
		LinkedAt: now,
	}))
	return user, nil
}

func (s *AuthService) createExternalAccount(ctx context.Context, email string, identity domain.ExternalIdentity, now time.Time) (*domain.User, error) {
	externalID := identity.Subject
	user := domain.User{
		ID:                 uuid.NewString(),
		Email:              email,
		ExternalIdentityID: &externalID,
		Status:             domain.AuthStatusActive,
		EmailVerifiedAt:    &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrExternalIdentityConflict
		}
		return nil, fmt.Errorf("create external account: %w", err)
	}

	s.logger.Info("account registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("provider", identity.Provider),
	)
	s.published(domain.EventAccountRegistered, s.events.PublishAccountRegistered(ctx, domain.AccountRegisteredEvent{
		UserID:       user.ID,
		Email:        email,
		Method:       identity.Provider,
		Status:       user.Status,
		RegisteredAt: now,
	}))
	s.published(domain.EventAccountExternalLinked, s.events.PublishExternalIdentityLinked(ctx, domain.ExternalIdentityLinkedEvent{
		UserID:   user.ID,
		Provider: identity.Provider,
		Created:  true,
		LinkedAt: now,
	}))
	return &user, nil
}
