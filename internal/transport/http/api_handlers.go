package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/auth"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/history"
)

// AdminHandlers provides the operator endpoints.
type AdminHandlers struct {
	authService *auth.Service
	history     *history.Service
	registry    *core.Registry
	log         *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(authService *auth.Service, hist *history.Service, registry *core.Registry, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		authService: authService,
		history:     hist,
		registry:    registry,
		log:         logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SessionsResponse lists connected users.
type SessionsResponse struct {
	Count    int                `json:"count"`
	Sessions []core.SessionInfo `json:"sessions"`
}

// Login exchanges operator credentials for a token.
// POST /api/admin/login
func (h *AdminHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.AdminLogin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Info().Str("username", req.Username).Msg("admin login rejected")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login admin")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", req.Username).Msg("admin logged in")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// ListSessions returns every connected user.
// GET /api/sessions
func (h *AdminHandlers) ListSessions(c *gin.Context) {
	sessions := h.registry.Sessions()
	c.JSON(http.StatusOK, SessionsResponse{Count: len(sessions), Sessions: sessions})
}

// KickSession disconnects a user.
// DELETE /api/sessions/:username
func (h *AdminHandlers) KickSession(c *gin.Context) {
	username := c.Param("username")
	if !h.registry.Kick(username) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}

	h.log.Info().Str("user", username).Str("by", c.GetString(ContextKeyUsername)).Msg("session kicked")
	c.Status(http.StatusNoContent)
}

// ClearGeneral deletes the general history.
// DELETE /api/history/general
func (h *AdminHandlers) ClearGeneral(c *gin.Context) {
	if err := h.history.ClearBroadcast(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("by", c.GetString(ContextKeyUsername)).Msg("general history cleared")
	c.Status(http.StatusNoContent)
}
