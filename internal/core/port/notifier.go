package port

import (
	"context"
	"time"
)

// MessageKind identifies which out-of-band link a message carries.
type MessageKind string

const (
	MessageKindVerification  MessageKind = "email_verification"
	MessageKindPasswordReset MessageKind = "password_reset"
)

// Message is a single out-of-band delivery of a link to a recipient.
type Message struct {
	Kind      MessageKind
	Recipient string
	Subject   string
	Link      string
	// ValidFor is how long the link stays usable, shown to the recipient.
	ValidFor time.Duration
}

// Notifier delivers verification and reset links. A nil error means delivered.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
