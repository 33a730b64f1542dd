package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/mail"
	"github.com/toolme/marketplace-api/internal/infra/security"
	"github.com/toolme/marketplace-api/internal/repository"
)

const resetPasswordPath = "/reset-password"

// ForgotPasswordResult is identical for known and unknown emails unless
// tokens are exposed, in which case ResetToken is set for known emails.
type ForgotPasswordResult struct {
	ResetToken string
}

// ForgotPassword issues a reset token for a known email and mails the link.
// The outcome never reveals whether the email is registered.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (result *ForgotPasswordResult, err error) {
	defer func() { s.observe("forgot_password", err) }()

	email = domain.NormalizeEmail(email)
	result = &ForgotPasswordResult{}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return result, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	token, err := security.NewEphemeralToken(s.now().UTC(), s.cfg.ResetTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generate reset token: %w", err)
	}
	if _, err := s.users.Update(ctx, user.ID, domain.UserPatch{
		PasswordResetTokenHash: domain.Some(token.Hash),
		PasswordResetExpiresAt: domain.Some(token.ExpiresAt),
	}); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	if s.cfg.ExposeTokens {
		result.ResetToken = token.Raw
	}

	// Delivery failures are logged by notify; reporting them would reveal the account.
	_ = s.notify(ctx, port.Message{
		Kind:      port.MessageKindPasswordReset,
		Recipient: user.Email,
		Subject:   mail.SubjectFor(port.MessageKindPasswordReset),
		Link:      s.link(resetPasswordPath, token.Raw),
		ValidFor:  s.cfg.ResetTokenTTL,
	})
	return result, nil
}

// ResetPassword consumes a reset token, replaces the password, clears the
// failure counter and any lock, and signs the owner in.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, confirm string) (session *Session, err error) {
	defer func() { s.observe("reset_password", err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	tokenHash := security.HashToken(token)

	// The holder's email only feeds the policy; the token itself is checked
	// when it is consumed, after validation.
	var email string
	holder, err := s.users.GetByResetTokenHash(ctx, tokenHash)
	switch {
	case err == nil:
		email = holder.Email
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup reset token: %w", err)
	}

	violations := &ValidationError{}
	s.checkPassword(violations, "new_password", newPassword, email)
	if newPassword != confirm {
		violations.add("new_password_confirm", "mismatch", "passwords do not match")
	}
	if err := violations.orNil(); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user, err := s.users.ConsumeResetToken(ctx, tokenHash, passwordHash, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}

	s.logger.Info("password reset", zap.String("user_id", user.ID))
	s.published(domain.EventAccountPasswordReset, s.events.PublishPasswordReset(ctx, domain.PasswordResetEvent{
		UserID:  user.ID,
		ResetAt: now,
	}))

	return s.issueSession(*user)
}
