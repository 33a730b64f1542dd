package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/toolme/marketplace-api/internal/core/port"
)

var (
	// ErrInvalidSessionToken covers every structural, signature, claim or expiry failure.
	ErrInvalidSessionToken = errors.New("jwt: invalid session token")
	// ErrSessionTokenExpired is wrapped by ErrInvalidSessionToken for expired tokens.
	ErrSessionTokenExpired = errors.New("jwt: session token expired")
	// ErrSigningSecretMissing indicates the issuer was built without a secret.
	ErrSigningSecretMissing = errors.New("jwt: signing secret is required")
)

const defaultSessionTokenTTL = 60 * time.Minute

// SessionTokenClaims is the JWT body of a session token.
type SessionTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionTokenConfig configures the HS256 session token issuer.
type SessionTokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// SessionTokenIssuer signs and validates HS256 session tokens.
type SessionTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokenIssuer constructs an issuer. The secret is process-wide and read-only afterwards.
func NewSessionTokenIssuer(cfg SessionTokenConfig) (*SessionTokenIssuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrSigningSecretMissing
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTokenTTL
	}

	return &SessionTokenIssuer{
		secret: []byte(cfg.Secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock allows injection of a custom clock (primarily for testing).
func (i *SessionTokenIssuer) WithClock(now func() time.Time) *SessionTokenIssuer {
	if now != nil {
		i.now = now
	}
	return i
}

// TTL returns the lifetime of issued tokens.
func (i *SessionTokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the supplied user.
func (i *SessionTokenIssuer) Issue(userID, email string) (port.IssuedToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return port.IssuedToken{}, fmt.Errorf("jwt: user id is required")
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := SessionTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return port.IssuedToken{}, fmt.Errorf("jwt: sign session token: %w", err)
	}

	return port.IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Decode verifies the signature, algorithm, expiry and subject of raw.
func (i *SessionTokenIssuer) Decode(raw string) (*port.SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidSessionToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	var claims SessionTokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSessionToken, ErrSessionTokenExpired)
		}
		return nil, ErrInvalidSessionToken
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSessionToken
	}

	result := &port.SessionClaims{
		Subject: claims.Subject,
		Email:   claims.Email,
		TokenID: claims.ID,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}

	return result, nil
}

var _ port.SessionTokenIssuer = (*SessionTokenIssuer)(nil)
