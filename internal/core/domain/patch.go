package domain

import "time"

// Optional distinguishes a field that was not supplied from one supplied as a
// value or explicitly as null.
type Optional[T any] struct {
	set   bool
	value *T
}

// Some returns an Optional carrying v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{set: true, value: &v}
}

// Null returns an Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// IsSet reports whether the field was supplied.
func (o Optional[T]) IsSet() bool { return o.set }

// IsNull reports whether the field was supplied as null.
func (o Optional[T]) IsNull() bool { return o.set && o.value == nil }

// Get returns the supplied value; ok is false when unset or null.
func (o Optional[T]) Get() (T, bool) {
	if !o.set || o.value == nil {
		var zero T
		return zero, false
	}
	return *o.value, true
}

// Ptr returns the supplied value as a pointer, nil for unset or null.
func (o Optional[T]) Ptr() *T {
	if !o.set || o.value == nil {
		return nil
	}
	v := *o.value
	return &v
}

// UserPatch lists the mutable user columns. Only supplied fields are written.
type UserPatch struct {
	PasswordHash               Optional[string]
	ExternalIdentityID         Optional[string]
	Status                     Optional[AuthStatus]
	FailedLoginAttempts        Optional[int]
	LockedUntil                Optional[time.Time]
	PasswordResetTokenHash     Optional[string]
	PasswordResetExpiresAt     Optional[time.Time]
	EmailVerificationTokenHash Optional[string]
	EmailVerificationExpiresAt Optional[time.Time]
	EmailVerifiedAt            Optional[time.Time]
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return !p.PasswordHash.IsSet() &&
		!p.ExternalIdentityID.IsSet() &&
		!p.Status.IsSet() &&
		!p.FailedLoginAttempts.IsSet() &&
		!p.LockedUntil.IsSet() &&
		!p.PasswordResetTokenHash.IsSet() &&
		!p.PasswordResetExpiresAt.IsSet() &&
		!p.EmailVerificationTokenHash.IsSet() &&
		!p.EmailVerificationExpiresAt.IsSet() &&
		!p.EmailVerifiedAt.IsSet()
}

// Apply returns a copy of u with the supplied fields written.
func (p UserPatch) Apply(u User) User {
	if p.PasswordHash.IsSet() {
		u.PasswordHash = p.PasswordHash.Ptr()
	}
	if p.ExternalIdentityID.IsSet() {
		u.ExternalIdentityID = p.ExternalIdentityID.Ptr()
	}
	if v, ok := p.Status.Get(); ok {
		u.Status = v
	}
	if v, ok := p.FailedLoginAttempts.Get(); ok {
		u.FailedLoginAttempts = v
	}
	if p.LockedUntil.IsSet() {
		u.LockedUntil = p.LockedUntil.Ptr()
	}
	if p.PasswordResetTokenHash.IsSet() {
		u.PasswordResetTokenHash = p.PasswordResetTokenHash.Ptr()
	}
	if p.PasswordResetExpiresAt.IsSet() {
		u.PasswordResetExpiresAt = p.PasswordResetExpiresAt.Ptr()
	}
	if p.EmailVerificationTokenHash.IsSet() {
		u.EmailVerificationTokenHash = p.EmailVerificationTokenHash.Ptr()
	}
	if p.EmailVerificationExpiresAt.IsSet() {
		u.EmailVerificationExpiresAt = p.EmailVerificationExpiresAt.Ptr()
	}
	if p.EmailVerifiedAt.IsSet() {
		u.EmailVerifiedAt = p.EmailVerifiedAt.Ptr()
	}
	return u
}
