// Package oauth verifies identity tokens issued by external sign-in providers.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/core/port"
)

// ProviderGoogle names the Google identity provider.
const ProviderGoogle = "google"

var (
	// ErrInvalidCredential is returned when the provider rejects the token.
	ErrInvalidCredential = errors.New("oauth: invalid identity token")
	// ErrProviderNotConfigured is returned when no client id is set.
	ErrProviderNotConfigured = errors.New("oauth: provider not configured")
)

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// GoogleVerifier validates Google ID tokens against the configured client id.
type GoogleVerifier struct {
	clientID string
	validate validateFunc
}

// NewGoogleVerifier builds a verifier for tokens minted for clientID.
func NewGoogleVerifier(clientID string) (*GoogleVerifier, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, ErrProviderNotConfigured
	}
	return &GoogleVerifier{clientID: clientID, validate: idtoken.Validate}, nil
}

// Provider returns the provider name stored with linked identities.
func (v *GoogleVerifier) Provider() string {
	return ProviderGoogle
}

// Verify checks signature, audience and expiry of credential and extracts the identity.
func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (domain.ExternalIdentity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.ExternalIdentity{}, ErrInvalidCredential
	}

	payload, err := v.validate(ctx, credential, v.clientID)
	if err != nil {
		return domain.ExternalIdentity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if payload.Subject == "" {
		return domain.ExternalIdentity{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	email, _ := payload.Claims["email"].(string)

	return domain.ExternalIdentity{
		Provider:      ProviderGoogle,
		Subject:       payload.Subject,
		Email:         domain.NormalizeEmail(email),
		EmailVerified: claimBool(payload.Claims["email_verified"]),
	}, nil
}

// claimBool accepts both boolean and string encodings of a claim.
func claimBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

var _ port.ExternalIdentityVerifier = (*GoogleVerifier)(nil)
