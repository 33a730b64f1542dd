package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolme/marketplace-api/internal/infra/oauth"
	"github.com/toolme/marketplace-api/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

const internalErrorMessage = "internal server error"

var authErrorCases = []ErrorCase{
	{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
	{Err: usecase.ErrExternalIdentityConflict, Status: http.StatusConflict, Message: "account is linked to another identity"},
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid email or password"},
	{Err: usecase.ErrEmailNotVerified, Status: http.StatusForbidden, Message: "email address not verified"},
	{Err: usecase.ErrAccountLocked, Status: http.StatusLocked, Message: "account locked after repeated failed logins"},
	{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Message: "invalid or expired token"},
	{Err: usecase.ErrPasswordRequired, Status: http.StatusBadRequest, Message: "password is required"},
	{Err: usecase.ErrNotificationFailed, Status: http.StatusServiceUnavailable, Message: "email could not be sent, try again later"},
	{Err: usecase.ErrExternalEmailUnverified, Status: http.StatusForbidden, Message: "provider did not confirm the email address"},
	{Err: usecase.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "not authenticated"},
	{Err: oauth.ErrInvalidCredential, Status: http.StatusUnauthorized, Message: "invalid identity token"},
}

// MatchErrorCase returns the first case whose sentinel err wraps.
func MatchErrorCase(err error, cases []ErrorCase) (ErrorCase, bool) {
	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			return cs, true
		}
	}
	return ErrorCase{}, false
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	if cs, ok := MatchErrorCase(err, cases); ok {
		c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
		return
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// RespondWithValidationError writes a 422 listing every rejected field.
func RespondWithValidationError(c *gin.Context, fields []FieldErrorResponse) {
	resp := NewErrorResponse(c, "validation failed")
	resp.Fields = fields
	c.JSON(http.StatusUnprocessableEntity, resp)
}

func validationFields(verr *usecase.ValidationError) []FieldErrorResponse {
	fields := make([]FieldErrorResponse, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		fields = append(fields, FieldErrorResponse{Field: fe.Field, Code: fe.Code, Message: fe.Message})
	}
	return fields
}
