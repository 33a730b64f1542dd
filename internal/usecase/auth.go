package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/logger"
	"github.com/toolme/marketplace-api/internal/repository"
)

const (
	defaultMaxLoginAttempts     = 5
	defaultResetTokenTTL        = time.Hour
	defaultVerificationTokenTTL = 24 * time.Hour

	// dummyPassword is hashed once at startup and verified against when the
	// account is unknown, so both branches pay for one hash comparison.
	dummyPassword = "toolme-timing-equalizer"
)

// AuthConfig holds the account lifecycle policy.
type AuthConfig struct {
	FrontendURL          string
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
	ResetTokenTTL        time.Duration
	VerificationTokenTTL time.Duration
	// ExposeTokens returns raw verification and reset tokens to the caller.
	// Only enabled in development and test environments.
	ExposeTokens bool
}

// AuthObserver receives authentication outcomes for metrics.
type AuthObserver interface {
	Observe(operation, outcome string)
	Lockout()
	NotificationFailed(kind string)
}

// AuthDependencies are the collaborators of AuthService. Observer is optional.
type AuthDependencies struct {
	Users    port.UserRepository
	Hasher   port.PasswordHasher
	Policy   port.PasswordPolicy
	Tokens   port.SessionTokenIssuer
	Notifier port.Notifier
	Events   port.EventPublisher
	Observer AuthObserver
	Logger   *zap.Logger
}

// Session is an established login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

// AuthService implements the account lifecycle: signup, verification, login
// with lockout, password reset, external sign-in and deletion.
type AuthService struct {
	cfg       AuthConfig
	users     port.UserRepository
	hasher    port.PasswordHasher
	policy    port.PasswordPolicy
	tokens    port.SessionTokenIssuer
	notifier  port.Notifier
	events    port.EventPublisher
	observer  AuthObserver
	logger    *zap.Logger
	now       func() time.Time
	dummyHash string
}

// NewAuthService validates deps and precomputes the timing-equalization hash.
func NewAuthService(cfg AuthConfig, deps AuthDependencies) (*AuthService, error) {
	switch {
	case deps.Users == nil:
		return nil, fmt.Errorf("auth service: user repository is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("auth service: password hasher is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("auth service: password policy is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("auth service: session token issuer is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("auth service: notifier is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("auth service: event publisher is required")
	}

	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = defaultMaxLoginAttempts
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = defaultResetTokenTTL
	}
	if cfg.VerificationTokenTTL <= 0 {
		cfg.VerificationTokenTTL = defaultVerificationTokenTTL
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")

	dummyHash, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("auth service: prepare dummy hash: %w", err)
	}

	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &AuthService{
		cfg:       cfg,
		users:     deps.Users,
		hasher:    deps.Hasher,
		policy:    deps.Policy,
		tokens:    deps.Tokens,
		notifier:  deps.Notifier,
		events:    deps.Events,
		observer:  observer,
		logger:    log,
		now:       time.Now,
		dummyHash: dummyHash,
	}, nil
}

// WithClock overrides the time source.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

// Login authenticates email and password. Checks run in a fixed order:
// existence, verification, lock, password credential, password match.
func (s *AuthService) Login(ctx context.Context, email, password string) (session *Session, err error) {
	defer func() { s.observe("login", err) }()

	now := s.now().UTC()

	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if user.Status == domain.AuthStatusUnverified {
		return nil, ErrEmailNotVerified
	}

	user, err = s.ensureUnlocked(ctx, user, now)
	if err != nil {
		return nil, err
	}

	if !user.HasPassword() {
		s.hasher.Verify(password, s.dummyHash)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, *user.PasswordHash) {
		return nil, s.recordFailure(ctx, user, now)
	}

	// The clear is conditional on the account still being active, so a failed
	// attempt that locked it after the read above wins.
	cleared, err := s.users.ClearLoginFailures(ctx, user.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("reset login counters: %w", err)
		}
		current, lookupErr := s.users.GetByID(ctx, user.ID)
		if lookupErr == nil && current.Status == domain.AuthStatusLocked {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(*cleared)
}

// ensureUnlocked rejects locked accounts. With a positive lockout duration a
// lock whose deadline passed is lifted first; otherwise only a reset unlocks.
func (s *AuthService) ensureUnlocked(ctx context.Context, user *domain.User, now time.Time) (*domain.User, error) {
	if user.Status != domain.AuthStatusLocked {
		return user, nil
	}
	if s.cfg.LockoutDuration <= 0 || user.LockedUntil == nil || now.Before(*user.LockedUntil) {
		return nil, ErrAccountLocked
	}

	unlocked, err := s.users.Update(ctx, user.ID, domain.UserPatch{
		Status:              domain.Some(domain.AuthStatusActive),
		FailedLoginAttempts: domain.Some(0),
		LockedUntil:         domain.Null[time.Time](),
	})
	if err != nil {
		return nil, fmt.Errorf("lift expired lock: %w", err)
	}

	s.logger.Info("expired account lock lifted", zap.String("user_id", user.ID))
	return unlocked, nil
}

func (s *AuthService) recordFailure(ctx context.Context, user *domain.User, now time.Time) error {
	lockedUntil := now
	if s.cfg.LockoutDuration > 0 {
		lockedUntil = now.Add(s.cfg.LockoutDuration)
	}

	failure, err := s.users.RecordLoginFailure(ctx, user.ID, s.cfg.MaxLoginAttempts, lockedUntil)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("record login failure: %w", err)
		}
		// A concurrent attempt changed the account after it was read.
		current, lookupErr := s.users.GetByID(ctx, user.ID)
		if lookupErr == nil && current.Status == domain.AuthStatusLocked {
			return ErrAccountLocked
		}
		return ErrInvalidCredentials
	}

	if !failure.Locked {
		return ErrInvalidCredentials
	}

	s.observer.Lockout()
	s.logger.Warn("account locked after failed logins",
		zap.String("user_id", user.ID),
		zap.Int("failed_attempts", failure.Attempts),
	)

	var until *time.Time
	if s.cfg.LockoutDuration > 0 {
		until = &lockedUntil
	}
	s.published(domain.EventAccountLocked, s.events.PublishAccountLocked(ctx, domain.AccountLockedEvent{
		UserID:         user.ID,
		FailedAttempts: failure.Attempts,
		LockedAt:       now,
		LockedUntil:    until,
	}))

	return ErrAccountLocked
}

// ResolveIdentity maps a session token to its user. Bad, expired and orphaned
// tokens yield ErrUnauthenticated; store failures are returned wrapped.
func (s *AuthService) ResolveIdentity(ctx context.Context, token string) (*domain.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := s.tokens.Decode(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup session user: %w", err)
	}
	return user, nil
}

// CurrentUser reloads the authenticated user.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// SessionTTL is the lifetime of issued sessions, used for the cookie Max-Age.
func (s *AuthService) SessionTTL() time.Duration {
	return s.tokens.TTL()
}

func (s *AuthService) issueSession(user domain.User) (*Session, error) {
	issued, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	return &Session{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: user}, nil
}

func (s *AuthService) link(path, token string) string {
	return s.cfg.FrontendURL + path + "?token=" + url.QueryEscape(token)
}

// published logs an event publishing failure. Events never fail an operation.
func (s *AuthService) published(eventType string, err error) {
	if err != nil {
		s.logger.Warn("publish account event failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *AuthService) notify(ctx context.Context, msg port.Message) error {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.observer.NotificationFailed(string(msg.Kind))
		s.logger.Error("notification failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("recipient", logger.MaskEmail(msg.Recipient)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *AuthService) observe(operation string, err error) {
	s.observer.Observe(operation, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrEmailNotVerified):
		return "email_not_verified"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrExternalIdentityConflict):
		return "conflict"
	case errors.Is(err, ErrNotificationFailed):
		return "notification_failed"
	case errors.Is(err, ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, ErrExternalEmailUnverified):
		return "external_email_unverified"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "error"
	}
}

type noopObserver struct{}

func (noopObserver) Observe(string, string)    {}
func (noopObserver) Lockout()                  {}
func (noopObserver) NotificationFailed(string) {}
