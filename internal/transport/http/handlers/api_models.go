package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toolme/marketplace-api/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string               `json:"error"`
	TraceID string               `json:"trace_id,omitempty"`
	Fields  []FieldErrorResponse `json:"fields,omitempty"`
}

// FieldErrorResponse describes one rejected request field.
type FieldErrorResponse struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes the public view of an account.
type UserSummary struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	HasPassword   bool   `json:"has_password"`
}

func newUserSummary(user domain.User) UserSummary {
	return UserSummary{
		ID:            user.ID,
		Email:         user.Email,
		EmailVerified: user.IsVerified(),
		HasPassword:   user.HasPassword(),
	}
}

// SignupRequest defines the payload for the signup endpoint.
type SignupRequest struct {
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	PasswordConfirm string `json:"password_confirm" binding:"required"`
}

// SignupResponse describes a newly created, unverified account.
// VerificationToken is only present in development and test environments.
type SignupResponse struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	EmailVerified     bool      `json:"email_verified"`
	VerificationToken *string   `json:"verification_token,omitempty"`
	ExpiresAt         time.Time `json:"verification_expires_at"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	UseCookie *bool  `json:"use_cookie"`
}

// SessionResponse is returned by every endpoint that signs the caller in.
type SessionResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        UserSummary `json:"user"`
}

// EmailRequest carries a single email address.
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// ForgotPasswordResponse is identical for known and unknown addresses outside
// development, where ResetToken echoes the issued token.
type ForgotPasswordResponse struct {
	Message    string  `json:"message"`
	ResetToken *string `json:"reset_token,omitempty"`
}

// ResendVerificationResponse mirrors ForgotPasswordResponse for verification links.
type ResendVerificationResponse struct {
	Message           string  `json:"message"`
	VerificationToken *string `json:"verification_token,omitempty"`
}

// ResetPasswordRequest defines the payload for the reset-password endpoint.
type ResetPasswordRequest struct {
	Token              string `json:"token" binding:"required"`
	NewPassword        string `json:"new_password" binding:"required"`
	NewPasswordConfirm string `json:"new_password_confirm"`
	UseCookie          *bool  `json:"use_cookie"`
}

// VerifyEmailRequest defines the payload for the verify-email endpoint.
type VerifyEmailRequest struct {
	Token     string `json:"token" binding:"required"`
	UseCookie *bool  `json:"use_cookie"`
}

// DeleteAccountRequest confirms an account deletion. Password is required for
// accounts that have one.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// ExternalSignInRequest carries a provider-issued identity token.
type ExternalSignInRequest struct {
	IDToken   string `json:"id_token" binding:"required"`
	UseCookie *bool  `json:"use_cookie"`
}

// RootResponse greets anonymous and signed-in callers.
type RootResponse struct {
	Service       string       `json:"service"`
	Authenticated bool         `json:"authenticated"`
	User          *UserSummary `json:"user,omitempty"`
}

// HealthResponse describes liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the outcome of each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
