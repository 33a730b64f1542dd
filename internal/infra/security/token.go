package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// EphemeralTokenBytes is the entropy of reset and verification tokens (256 bits).
const EphemeralTokenBytes = 32

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// EphemeralToken is a single-use token. Raw goes into the emailed link, Hash
// into the store.
type EphemeralToken struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// NewEphemeralToken generates a token valid for ttl from now.
func NewEphemeralToken(now time.Time, ttl time.Duration) (EphemeralToken, error) {
	if ttl <= 0 {
		return EphemeralToken{}, fmt.Errorf("token ttl must be positive")
	}

	raw, err := GenerateSecureToken(EphemeralTokenBytes)
	if err != nil {
		return EphemeralToken{}, err
	}

	return EphemeralToken{
		Raw:       raw,
		Hash:      HashToken(raw),
		ExpiresAt: now.Add(ttl).UTC(),
	}, nil
}
