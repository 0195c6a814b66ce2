// Package http exposes the operator API, Prometheus metrics and a WebSocket
// bridge that carries the line protocol for browser clients.
package http

import (
	"context"
	"net"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/auth"
	"github.com/vovakirdan/linechat-server/internal/config"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/history"
)

// ConnHandler serves a protocol connection; session.Handler implements it.
type ConnHandler interface {
	Serve(ctx context.Context, conn net.Conn)
}

// Deps are the services behind the HTTP routes.
type Deps struct {
	Auth     *auth.Service
	History  *history.Service
	Registry *core.Registry
	Sessions ConnHandler // nil disables /ws
}

// NewServer builds the admin HTTP server.
func NewServer(deps Deps, cfg config.AdminHTTPConfig, maxLineBytes int, logger *zerolog.Logger) *stdhttp.Server {
	l := logger.With().Str("component", "admin").Logger()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(&l))

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.WebSocket && deps.Sessions != nil {
		router.GET("/ws", gin.WrapH(NewWSHandler(deps.Sessions, maxLineBytes, cfg.OriginPatterns, &l)))
	}

	admin := NewAdminHandlers(deps.Auth, deps.History, deps.Registry, &l)
	api := router.Group("/api")
	api.POST("/admin/login", admin.Login)

	protected := api.Group("", AuthMiddleware(deps.Auth, &l))
	protected.GET("/sessions", admin.ListSessions)
	protected.DELETE("/sessions/:username", admin.KickSession)
	protected.DELETE("/history/general", admin.ClearGeneral)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
