package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolme/marketplace-api/internal/transport/http/middleware"
)

// RootHandler serves the public landing endpoint.
type RootHandler struct {
	service string
}

// NewRootHandler builds a RootHandler reporting service as its name.
func NewRootHandler(service string) *RootHandler {
	return &RootHandler{service: service}
}

// Index godoc
// @Summary Service landing
// @Description Public endpoint that personalizes the response for signed-in callers.
// @Produce json
// @Success 200 {object} RootResponse
// @Router / [get]
func (h *RootHandler) Index(c *gin.Context) {
	resp := RootResponse{Service: h.service}
	if user, ok := middleware.CurrentUser(c); ok {
		summary := newUserSummary(*user)
		resp.Authenticated = true
		resp.User = &summary
	}
	c.JSON(http.StatusOK, resp)
}
