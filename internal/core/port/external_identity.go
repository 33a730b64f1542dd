package port

import (
	"context"

	"github.com/toolme/marketplace-api/internal/core/domain"
)

// ExternalIdentityVerifier validates a provider credential and returns the
// identity it asserts.
type ExternalIdentityVerifier interface {
	Provider() string
	Verify(ctx context.Context, credential string) (domain.ExternalIdentity, error)
}
