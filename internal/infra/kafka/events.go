package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	bytes, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	return p.producer.Send(ctx, p.producer.TopicName(eventType), userID, bytes)
}

// PublishAccountRegistered publishes account.registered events.
func (p *EventPublisher) PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error {
	payload := struct {
		UserID       string    `json:"user_id"`
		Email        string    `json:"email"`
		Method       string    `json:"method"`
		Status       string    `json:"status"`
		RegisteredAt time.Time `json:"registered_at"`
	}{
		UserID:       event.UserID,
		Email:        event.Email,
		Method:       event.Method,
		Status:       string(event.Status),
		RegisteredAt: event.RegisteredAt.UTC(),
	}

	return p.publish(ctx, event.EventID, domain.EventAccountRegistered, event.UserID, event.RegisteredAt, payload)
}

// PublishAccountVerified publishes account.verified events.
func (p *EventPublisher) PublishAccountVerified(ctx context.Context, event domain.AccountVerifiedEvent) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		VerifiedAt time.Time `json:"verified_at"`
	}{
		UserID:     event.UserID,
		VerifiedAt: event.VerifiedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, domain.EventAccountVerified, event.UserID, event.VerifiedAt, payload)
}

// PublishAccountLocked publishes account.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		UserID         string     `json:"user_id"`
		FailedAttempts int        `json:"failed_attempts"`
		LockedAt       time.Time  `json:"locked_at"`
		LockedUntil    *time.Time `json:"locked_until,omitempty"`
	}{
		UserID:         event.UserID,
		FailedAttempts: event.FailedAttempts,
		LockedAt:       event.LockedAt.UTC(),
		LockedUntil:    event.LockedUntil,
	}

	return p.publish(ctx, event.EventID, domain.EventAccountLocked, event.UserID, event.LockedAt, payload)
}

// PublishPasswordReset publishes account.password_reset events.
func (p *EventPublisher) PublishPasswordReset(ctx context.Context, event domain.PasswordResetEvent) error {
	payload := struct {
		UserID  string    `json:"user_id"`
		ResetAt time.Time `json:"reset_at"`
	}{
		UserID:  event.UserID,
		ResetAt: event.ResetAt.UTC(),
	}

	return p.publish(ctx, event.EventID, domain.EventAccountPasswordReset, event.UserID, event.ResetAt, payload)
}

// PublishAccountDeleted publishes account.deleted events.
func (p *EventPublisher) PublishAccountDeleted(ctx context.Context, event domain.AccountDeletedEvent) error {
	payload := struct {
		UserID    string    `json:"user_id"`
		DeletedAt time.Time `json:"deleted_at"`
	}{
		UserID:    event.UserID,
		DeletedAt: event.DeletedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, domain.EventAccountDeleted, event.UserID, event.DeletedAt, payload)
}

// PublishExternalIdentityLinked publishes account.external_linked events.
func (p *EventPublisher) PublishExternalIdentityLinked(ctx context.Context, event domain.ExternalIdentityLinkedEvent) error {
	payload := struct {
		UserID   string    `json:"user_id"`
		Provider string    `json:"provider"`
		Created  bool      `json:"created"`
		LinkedAt time.Time `json:"linked_at"`
	}{
		UserID:   event.UserID,
		Provider: event.Provider,
		Created:  event.Created,
		LinkedAt: event.LinkedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, domain.EventAccountExternalLinked, event.UserID, event.LinkedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
