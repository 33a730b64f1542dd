package usecase

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/logger"
	"github.com/toolme/marketplace-api/internal/infra/mail"
	"github.com/toolme/marketplace-api/internal/infra/security"
	"github.com/toolme/marketplace-api/internal/repository"
)

const (
	registrationMethodPassword = "password"
	verifyEmailPath            = "/verify-email"
)

// SignupInput carries the signup form.
type SignupInput struct {
	Email           string
	Password        string
	PasswordConfirm string
}

// SignupResult describes the created account. VerificationToken is only
// populated when tokens are exposed.
type SignupResult struct {
	User              domain.User
	VerificationToken string
	ExpiresAt         time.Time
}

// ResendVerificationResult carries the new token when tokens are exposed.
type ResendVerificationResult struct {
	VerificationToken string
	ExpiresAt         time.Time
}

// Signup creates an unverified account and sends its verification link. The
// account is durable before delivery; a delivery failure returns the result
// together with ErrNotificationFailed.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (result *SignupResult, err error) {
	defer func() { s.observe("signup", err) }()

	email := domain.NormalizeEmail(in.Email)

	violations := &ValidationError{}
	if err := validateEmail(email); err != nil {
		violations.add("email", "invalid_email", err.Error())
	}
	s.checkPassword(violations, "password", in.Password, email)
	if in.Password != in.PasswordConfirm {
		violations.add("password_confirm", "mismatch", "passwords do not match")
	}
	if err := violations.orNil(); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	token, err := security.NewEphemeralToken(now, s.cfg.VerificationTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}

	user := domain.User{
		ID:                         uuid.NewString(),
		Email:                      email,
		PasswordHash:               &passwordHash,
		Status:                     domain.AuthStatusUnverified,
		EmailVerificationTokenHash: &token.Hash,
		EmailVerificationExpiresAt: &token.ExpiresAt,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("account registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(email)),
	)
	s.published(domain.EventAccountRegistered, s.events.PublishAccountRegistered(ctx, domain.AccountRegisteredEvent{
		UserID:       user.ID,
		Email:        email,
		Method:       registrationMethodPassword,
		Status:       user.Status,
		RegisteredAt: now,
	}))

	result = &SignupResult{User: user, ExpiresAt: token.ExpiresAt}
	if s.cfg.ExposeTokens {
		result.VerificationToken = token.Raw
	}

	if err := s.notify(ctx, s.verificationMessage(email, token.Raw)); err != nil {
		return result, fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return result, nil
}

// VerifyEmail consumes a verification token and signs the owner in.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (session *Session, err error) {
	defer func() { s.observe("verify_email", err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	now := s.now().UTC()
	user, err := s.users.ConsumeVerificationToken(ctx, security.HashToken(token), now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("consume verification token: %w", err)
	}

	s.published(domain.EventAccountVerified, s.events.PublishAccountVerified(ctx, domain.AccountVerifiedEvent{
		UserID:     user.ID,
		VerifiedAt: now,
	}))

	return s.issueSession(*user)
}

// ResendVerification replaces the verification token of an unverified account
// and sends a new link. Unknown or already verified emails succeed silently.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (result *ResendVerificationResult, err error) {
	defer func() { s.observe("resend_verification", err) }()

	email = domain.NormalizeEmail(email)
	result = &ResendVerificationResult{}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return result, nil
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Status != domain.AuthStatusUnverified {
		return result, nil
	}

	token, err := security.NewEphemeralToken(s.now().UTC(), s.cfg.VerificationTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}
	if _, err := s.users.Update(ctx, user.ID, domain.UserPatch{
		EmailVerificationTokenHash: domain.Some(token.Hash),
		EmailVerificationExpiresAt: domain.Some(token.ExpiresAt),
	}); err != nil {
		return nil, fmt.Errorf("store verification token: %w", err)
	}

	if s.cfg.ExposeTokens {
		result.VerificationToken = token.Raw
		result.ExpiresAt = token.ExpiresAt
	}

	// Delivery failures are logged by notify and not reported to the caller.
	_ = s.notify(ctx, s.verificationMessage(user.Email, token.Raw))
	return result, nil
}

// EnsureSeedUser creates an active, verified account for email unless one
// exists. It reports whether the account was created.
func (s *AuthService) EnsureSeedUser(ctx context.Context, email, password string) (bool, error) {
	email = domain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return false, fmt.Errorf("seed user: %w", err)
	}
	if password == "" {
		return false, fmt.Errorf("seed user: password is required")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return false, fmt.Errorf("seed user: lookup: %w", err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return false, fmt.Errorf("seed user: hash password: %w", err)
	}

	now := s.now().UTC()
	err = s.users.Create(ctx, domain.User{
		ID:              uuid.NewString(),
		Email:           email,
		PasswordHash:    &passwordHash,
		Status:          domain.AuthStatusActive,
		EmailVerifiedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("seed user: create: %w", err)
	}

	s.logger.Info("seed user created", zap.String("email", logger.MaskEmail(email)))
	return true, nil
}

func (s *AuthService) verificationMessage(email, rawToken string) port.Message {
	return port.Message{
		Kind:      port.MessageKindVerification,
		Recipient: email,
		Subject:   mail.SubjectFor(port.MessageKindVerification),
		Link:      s.link(verifyEmailPath, rawToken),
		ValidFor:  s.cfg.VerificationTokenTTL,
	}
}

// checkPassword records a policy violation of password under field.
func (s *AuthService) checkPassword(violations *ValidationError, field, password, email string) {
	err := s.policy.Validate(password, email)
	if err == nil {
		return
	}
	var policyErr *security.PasswordValidationError
	if errors.As(err, &policyErr) {
		violations.add(field, policyErr.Code, policyErr.Message)
		return
	}
	violations.add(field, "invalid_password", err.Error())
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	address, err := netmail.ParseAddress(email)
	if err != nil || address.Address != email {
		return errors.New("email is not a valid address")
	}
	local, domainPart, ok := strings.Cut(email, "@")
	if !ok || local == "" || !strings.Contains(domainPart, ".") ||
		strings.HasPrefix(domainPart, ".") || strings.HasSuffix(domainPart, ".") {
		return errors.New("email must include a domain")
	}
	return nil
}
