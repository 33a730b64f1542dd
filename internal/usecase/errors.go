package usecase

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrEmailTaken indicates an account with the email already exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers unknown emails, wrong passwords and password-less accounts alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified indicates the account must confirm its email before logging in.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrAccountLocked indicates too many failed logins; a password reset unlocks it.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidToken indicates a verification or reset token that is unknown, consumed or expired.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrPasswordRequired indicates the operation needs the current password.
	ErrPasswordRequired = errors.New("password required")
	// ErrNotificationFailed indicates the record was stored but the email could not be sent.
	ErrNotificationFailed = errors.New("notification delivery failed")
	// ErrExternalEmailUnverified indicates the identity provider did not vouch for the email.
	ErrExternalEmailUnverified = errors.New("external identity email not verified")
	// ErrExternalIdentityConflict indicates the email is already linked to another external identity.
	ErrExternalIdentityConflict = errors.New("external identity conflict")
	// ErrUnauthenticated indicates no valid session accompanies the request.
	ErrUnauthenticated = errors.New("not authenticated")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// ValidationError collects every field violation of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	messages := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		messages = append(messages, field.Field+": "+field.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(messages, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for validation errors.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, code, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
