package port

import (
	"context"

	"github.com/toolme/marketplace-api/internal/core/domain"
)

// EventPublisher publishes account lifecycle events to the message bus.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error
	PublishAccountVerified(ctx context.Context, event domain.AccountVerifiedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishPasswordReset(ctx context.Context, event domain.PasswordResetEvent) error
	PublishAccountDeleted(ctx context.Context, event domain.AccountDeletedEvent) error
	PublishExternalIdentityLinked(ctx context.Context, event domain.ExternalIdentityLinkedEvent) error
}
