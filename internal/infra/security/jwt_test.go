package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, now *time.Time) *SessionTokenIssuer {
	t.Helper()

	issuer, err := NewSessionTokenIssuer(SessionTokenConfig{
		Secret: "test-secret-with-at-least-32-bytes!!",
		Issuer: "toolme-api",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSessionTokenIssuer returned error: %v", err)
	}
	return issuer.WithClock(func() time.Time { return *now })
}

func TestSessionTokenRoundTrip(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, &now)

	issued, err := issuer.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !issued.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", issued.ExpiresAt)
	}

	claims, err := issuer.Decode(issued.Token)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@x.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.TokenID == "" {
		t.Fatal("expected token id")
	}
	if !claims.IssuedAt.Equal(now) {
		t.Fatalf("unexpected issued at %v", claims.IssuedAt)
	}
}

func TestSessionTokenExpires(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, &now)

	issued, err := issuer.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, err := issuer.Decode(issued.Token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	now = now.Add(2 * time.Minute)
	_, err = issuer.Decode(issued.Token)
	if !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected ErrInvalidSessionToken, got %v", err)
	}
	if !errors.Is(err, ErrSessionTokenExpired) {
		t.Fatalf("expected expiry to be reported, got %v", err)
	}
}

func TestSessionTokenRejectsTampering(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, &now)

	issued, err := issuer.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	parts := strings.Split(issued.Token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	tampered := strings.Join(parts, ".")

	other, err := NewSessionTokenIssuer(SessionTokenConfig{Secret: "a-completely-different-signing-secret", Issuer: "toolme-api"})
	if err != nil {
		t.Fatalf("NewSessionTokenIssuer returned error: %v", err)
	}
	foreign, err := other.WithClock(func() time.Time { return now }).Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	for _, token := range []string{"", "not-a-jwt", "a.b.c", tampered, foreign.Token} {
		if _, err := issuer.Decode(token); !errors.Is(err, ErrInvalidSessionToken) {
			t.Fatalf("expected %q to be rejected, got %v", token, err)
		}
	}
}

func TestSessionTokenRejectsOtherAlgorithmsAndMissingSubject(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, &now)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, SessionTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "toolme-api",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := issuer.Decode(unsigned); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "toolme-api",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := noSubject.SignedString(issuer.secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := issuer.Decode(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected missing subject to be rejected, got %v", err)
	}
}

func TestNewSessionTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewSessionTokenIssuer(SessionTokenConfig{Secret: "  "}); !errors.Is(err, ErrSigningSecretMissing) {
		t.Fatalf("expected ErrSigningSecretMissing, got %v", err)
	}
}
