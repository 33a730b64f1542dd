package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/toolme/marketplace-api/internal/core/domain"
	"github.com/toolme/marketplace-api/internal/usecase"
)

const currentUserKey = "current_user"

// IdentityService maps a session token to its user. Tokens that do not name a
// session fail with usecase.ErrUnauthenticated; anything else is a server fault.
type IdentityService interface {
	ResolveIdentity(ctx context.Context, token string) (*domain.User, error)
}

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// IdentityResolver reads the session token from the Authorization header or,
// failing that, the session cookie.
type IdentityResolver struct {
	service    IdentityService
	cookieName string
}

// NewIdentityResolver builds a resolver reading cookieName as the fallback token source.
func NewIdentityResolver(service IdentityService, cookieName string) *IdentityResolver {
	return &IdentityResolver{service: service, cookieName: cookieName}
}

// RequireIdentity aborts with 401 unless the request carries a valid session.
func (r *IdentityResolver) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := r.resolve(c)
		if err != nil {
			abortInternal(c, err)
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "not authenticated"))
			return
		}
		c.Next()
	}
}

// OptionalIdentity resolves the session when present and lets anonymous requests through.
func (r *IdentityResolver) OptionalIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := r.resolve(c); err != nil {
			abortInternal(c, err)
			return
		}
		c.Next()
	}
}

func (r *IdentityResolver) resolve(c *gin.Context) (bool, error) {
	token := r.token(c)
	if token == "" {
		return false, nil
	}

	user, err := r.service.ResolveIdentity(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, usecase.ErrUnauthenticated) {
			return false, nil
		}
		return false, err
	}
	if user == nil {
		return false, nil
	}

	c.Set(currentUserKey, user)
	c.Set(UserIDKey, user.ID)
	GetRequestContext(c).UserID = user.ID
	return true, nil
}

// abortInternal records err for the access log and hides it from the client.
func abortInternal(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "internal server error"))
}

func (r *IdentityResolver) token(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if r.cookieName == "" {
		return ""
	}
	if cookie, err := c.Cookie(r.cookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

// CurrentUser returns the user resolved for this request, if any.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	value, exists := c.Get(currentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok && user != nil
}
