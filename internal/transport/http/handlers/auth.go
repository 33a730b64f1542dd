package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/transport/http/middleware"
	"github.com/toolme/marketplace-api/internal/usecase"
)

// DefaultCookieName names the session cookie when none is configured.
const DefaultCookieName = "toolme_access_token"

const (
	tokenTypeBearer = "bearer"

	genericForgotPasswordMessage = "if the address is registered, a reset link has been sent"
	genericResendMessage         = "if the address awaits verification, a new link has been sent"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

// AuthHandler exposes the account lifecycle endpoints.
type AuthHandler struct {
	auth     *usecase.AuthService
	external port.ExternalIdentityVerifier
	cookie   CookieConfig
	logger   *zap.Logger
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithExternalVerifier enables provider sign-in at /external/<provider>.
func WithExternalVerifier(verifier port.ExternalIdentityVerifier) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.external = verifier
	}
}

// WithCookie overrides the session cookie attributes.
func WithCookie(cfg CookieConfig) AuthHandlerOption {
	return func(h *AuthHandler) {
		if cfg.Name != "" {
			h.cookie.Name = cfg.Name
		}
		if cfg.Path != "" {
			h.cookie.Path = cfg.Path
		}
		h.cookie.Domain = cfg.Domain
		h.cookie.Secure = cfg.Secure
	}
}

// WithLogger sets the logger used for unexpected failures.
func WithLogger(log *zap.Logger) AuthHandlerOption {
	return func(h *AuthHandler) {
		if log != nil {
			h.logger = log
		}
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, opts ...AuthHandlerOption) *AuthHandler {
	useJSONFieldNames()

	handler := &AuthHandler{
		auth:   auth,
		cookie: CookieConfig{Name: DefaultCookieName, Path: "/"},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds the authentication routes. limiters run ahead of every
// unauthenticated credential endpoint.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, identity *middleware.IdentityResolver, limiters ...gin.HandlerFunc) {
	limited := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc{}, limiters...)
		return append(chain, handler)
	}

	r.POST("/signup", limited(h.signup)...)
	r.POST("/login", limited(h.login)...)
	r.POST("/forgot-password", limited(h.forgotPassword)...)
	r.POST("/reset-password", limited(h.resetPassword)...)
	r.POST("/verify-email", limited(h.verifyEmail)...)
	r.POST("/resend-verification", limited(h.resendVerification)...)
	r.POST("/logout", h.logout)

	r.GET("/me", identity.RequireIdentity(), h.me)
	r.POST("/delete-account", append([]gin.HandlerFunc{identity.RequireIdentity()}, limited(h.deleteAccount)...)...)

	if h.external != nil {
		r.POST("/external/"+h.external.Provider(), limited(h.externalSignIn)...)
	}
}

// Signup godoc
// @Summary Create an account
// @Description Creates an unverified account and emails a verification link.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body SignupRequest true "Signup payload"
// @Success 201 {object} SignupResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/auth/signup [post]
func (h *AuthHandler) signup(c *gin.Context) {
	var req SignupRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.Signup(c.Request.Context(), usecase.SignupInput{
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := SignupResponse{
		ID:            result.User.ID,
		Email:         result.User.Email,
		EmailVerified: result.User.IsVerified(),
		ExpiresAt:     result.ExpiresAt,
	}
	if result.VerificationToken != "" {
		token := result.VerificationToken
		resp.VerificationToken = &token
	}

	c.JSON(http.StatusCreated, resp)
}

// Login godoc
// @Summary Sign in with email and password
// @Description Returns a session token and sets the session cookie unless use_cookie is false.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondSession(c, session, req.UseCookie)
}

// Me godoc
// @Summary Current account
// @Tags Authentication
// @Produce json
// @Success 200 {object} UserSummary
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	current, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "not authenticated"))
		return
	}

	user, err := h.auth.CurrentUser(c.Request.Context(), current.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserSummary(*user))
}

// Logout godoc
// @Summary Sign out
// @Description Clears the session cookie. Bearer tokens stay valid until they expire.
// @Tags Authentication
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) logout(c *gin.Context) {
	h.clearCookie(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// ForgotPassword godoc
// @Summary Request a password reset link
// @Description Always answers with the same message whether or not the address is registered.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email payload"
// @Success 200 {object} ForgotPasswordResponse
// @Router /api/v1/auth/forgot-password [post]
func (h *AuthHandler) forgotPassword(c *gin.Context) {
	var req EmailRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := ForgotPasswordResponse{Message: genericForgotPasswordMessage}
	if result.ResetToken != "" {
		token := result.ResetToken
		resp.ResetToken = &token
	}
	c.JSON(http.StatusOK, resp)
}

// ResetPassword godoc
// @Summary Reset the password with an emailed token
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset payload"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/auth/reset-password [post]
func (h *AuthHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.NewPassword, req.NewPasswordConfirm)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondSession(c, session, req.UseCookie)
}

// VerifyEmail godoc
// @Summary Confirm the email address
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body VerifyEmailRequest true "Verification payload"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if !bindJSON(c, &req) {
		return
	}

	session, err := h.auth.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondSession(c, session, req.UseCookie)
}

// ResendVerification godoc
// @Summary Send a new verification link
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Email payload"
// @Success 200 {object} ResendVerificationResponse
// @Router /api/v1/auth/resend-verification [post]
func (h *AuthHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.ResendVerification(c.Request.Context(), req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := ResendVerificationResponse{Message: genericResendMessage}
	if result.VerificationToken != "" {
		token := result.VerificationToken
		resp.VerificationToken = &token
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteAccount godoc
// @Summary Delete the current account
// @Description Accounts with a password must confirm it.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body DeleteAccountRequest false "Confirmation payload"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/delete-account [post]
func (h *AuthHandler) deleteAccount(c *gin.Context) {
	current, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "not authenticated"))
		return
	}

	var req DeleteAccountRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	if err := h.auth.DeleteAccount(c.Request.Context(), current.ID, req.Password); err != nil {
		h.respondError(c, err)
		return
	}

	h.clearCookie(c)
	c.JSON(http.StatusOK, MessageResponse{Message: "account deleted"})
}

// ExternalSignIn godoc
// @Summary Sign in with a provider identity token
// @Description Links the verified provider email to an existing account or creates a new one.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ExternalSignInRequest true "Provider token payload"
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/external/google [post]
func (h *AuthHandler) externalSignIn(c *gin.Context) {
	var req ExternalSignInRequest
	if !bindJSON(c, &req) {
		return
	}

	identity, err := h.external.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		h.respondError(c, err)
		return
	}

	session, err := h.auth.ExternalSignIn(c.Request.Context(), identity)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.respondSession(c, session, req.UseCookie)
}

func (h *AuthHandler) respondSession(c *gin.Context, session *usecase.Session, useCookie *bool) {
	if useCookie == nil || *useCookie {
		h.setCookie(c, session.Token, time.Until(session.ExpiresAt))
	}

	c.JSON(http.StatusOK, SessionResponse{
		AccessToken: session.Token,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   session.ExpiresAt,
		User:        newUserSummary(session.User),
	})
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	var verr *usecase.ValidationError
	if errors.As(err, &verr) {
		RespondWithValidationError(c, validationFields(verr))
		return
	}

	if _, ok := MatchErrorCase(err, authErrorCases); !ok {
		h.logger.Error("auth request failed",
			zap.String("route", c.FullPath()),
			zap.String("trace_id", middleware.GetTraceID(c)),
			zap.Error(err),
		)
	}
	RespondWithMappedError(c, err, authErrorCases, http.StatusInternalServerError, internalErrorMessage)
}

func (h *AuthHandler) setCookie(c *gin.Context, token string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if maxAge <= 0 {
		maxAge = int(h.auth.SessionTTL().Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, token, maxAge, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}

func (h *AuthHandler) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, h.cookie.Path, h.cookie.Domain, h.cookie.Secure, true)
}
