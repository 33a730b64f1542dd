package security

import (
	"fmt"
	"strings"

	"github.com/toolme/marketplace-api/internal/core/port"
)

const (
	DefaultMinPasswordLength = 12
	// BcryptMaxPasswordBytes is the input limit of bcrypt.
	BcryptMaxPasswordBytes = 72
)

// PolicyConfig configures the account password policy.
type PolicyConfig struct {
	MinLength int
	MaxBytes  int
	// MinScore is the minimum zxcvbn score (0-4); 0 disables the strength check.
	MinScore int
}

// DefaultPolicyConfig returns the signup and reset policy.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength: DefaultMinPasswordLength,
		MaxBytes:  BcryptMaxPasswordBytes,
	}
}

// PasswordPolicy adapts the password validator to the port.PasswordPolicy interface.
type PasswordPolicy struct {
	cfg PolicyConfig
}

// NewPasswordPolicy builds a policy from cfg, falling back to defaults for unset limits.
func NewPasswordPolicy(cfg PolicyConfig) *PasswordPolicy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinPasswordLength
	}
	return &PasswordPolicy{cfg: cfg}
}

// MinLength returns the minimum number of characters.
func (p *PasswordPolicy) MinLength() int {
	return p.cfg.MinLength
}

// Validate returns the first *PasswordValidationError for password. userInputs
// are the account's email: the password may not equal it, and it feeds the
// strength estimator so passwords built from it score low.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}

	emails := make([]string, 0, len(userInputs))
	inputs := make([]string, 0, len(userInputs)*2)
	for _, input := range userInputs {
		if trimmed := strings.TrimSpace(input); trimmed != "" {
			emails = append(emails, trimmed)
			inputs = append(inputs, trimmed)
			if local, _, ok := strings.Cut(trimmed, "@"); ok && local != "" {
				inputs = append(inputs, local)
			}
		}
	}

	validator := NewPasswordValidator(
		NotBlankRule(),
		MinLengthRule(p.cfg.MinLength),
		MaxBytesRule(p.cfg.MaxBytes),
		NotEqualRule(emails...),
		RequirePasswordStrengthRule(p.cfg.MinScore, inputs...),
	)

	return validator.Validate(password)
}

var _ port.PasswordPolicy = (*PasswordPolicy)(nil)
