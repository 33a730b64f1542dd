package security

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/toolme/marketplace-api/internal/core/port"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// HasherConfig selects the algorithm used for new hashes. Verification accepts
// every supported algorithm so stored hashes survive a change of setting.
type HasherConfig struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Config
}

// PasswordHasher implements port.PasswordHasher over bcrypt and argon2id.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
	argon2     Argon2Config
}

// NewPasswordHasher validates cfg and builds a hasher.
func NewPasswordHasher(cfg HasherConfig) (*PasswordHasher, error) {
	algorithm := strings.ToLower(strings.TrimSpace(cfg.Algorithm))
	if algorithm == "" {
		algorithm = AlgorithmBcrypt
	}

	h := &PasswordHasher{algorithm: algorithm, bcryptCost: cfg.BcryptCost, argon2: cfg.Argon2}

	switch algorithm {
	case AlgorithmBcrypt:
		if h.bcryptCost == 0 {
			h.bcryptCost = DefaultBcryptCost
		}
		if h.bcryptCost < bcrypt.MinCost || h.bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt: cost %d outside [%d, %d]", h.bcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
		}
	case AlgorithmArgon2id:
		if h.argon2 == (Argon2Config{}) {
			h.argon2 = DefaultArgon2Config()
		}
		if err := validateArgon2Config(h.argon2); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	return h, nil
}

// Algorithm returns the algorithm used for new hashes.
func (h *PasswordHasher) Algorithm() string {
	return h.algorithm
}

// Hash derives a salted hash that embeds its own parameters.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2(h.argon2, password)
	}

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: generate hash: %w", err)
	}
	return string(bytes), nil
}

// Verify compares password against encoded in constant time. Malformed or
// unknown hashes never match.
func (h *PasswordHasher) Verify(password, encoded string) bool {
	if encoded == "" {
		return false
	}

	switch {
	case strings.HasPrefix(encoded, argon2Variant+"$"):
		return verifyArgon2(password, encoded)
	case isBcryptHash(encoded):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password)) == nil
	default:
		return false
	}
}

func isBcryptHash(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

var _ port.PasswordHasher = (*PasswordHasher)(nil)
