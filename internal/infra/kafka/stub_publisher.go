package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		append([]zap.Field{
			zap.String("event_type", eventType),
			zap.String("user_id", userID),
			zap.Time("timestamp", at.UTC()),
		}, fields...)...,
	)
}

func (p *StubPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.logEvent(domain.EventAccountRegistered, event.UserID, event.RegisteredAt,
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.String("method", event.Method),
		zap.String("status", string(event.Status)),
	)
	return nil
}

func (p *StubPublisher) PublishAccountVerified(_ context.Context, event domain.AccountVerifiedEvent) error {
	p.logEvent(domain.EventAccountVerified, event.UserID, event.VerifiedAt)
	return nil
}

func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent(domain.EventAccountLocked, event.UserID, event.LockedAt,
		zap.Int("failed_attempts", event.FailedAttempts),
	)
	return nil
}

func (p *StubPublisher) PublishPasswordReset(_ context.Context, event domain.PasswordResetEvent) error {
	p.logEvent(domain.EventAccountPasswordReset, event.UserID, event.ResetAt)
	return nil
}

func (p *StubPublisher) PublishAccountDeleted(_ context.Context, event domain.AccountDeletedEvent) error {
	p.logEvent(domain.EventAccountDeleted, event.UserID, event.DeletedAt)
	return nil
}

func (p *StubPublisher) PublishExternalIdentityLinked(_ context.Context, event domain.ExternalIdentityLinkedEvent) error {
	p.logEvent(domain.EventAccountExternalLinked, event.UserID, event.LinkedAt,
		zap.String("provider", event.Provider),
		zap.Bool("created", event.Created),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
