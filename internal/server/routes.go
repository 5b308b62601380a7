package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	rateLimit := newRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Bootstrapping route: the one call that works before a secret exists.
	s.echo.POST("/api/secret", s.handleSetSecret, rateLimit)

	api := s.echo.Group("/api", rateLimit, s.requireSecret)
	api.GET("/state", s.handleState)
	api.POST("/credentials", s.handleSaveCredentials)
	api.POST("/verify", s.handleVerify)
	api.GET("/accounts", s.handleListAccounts)
	api.POST("/accounts", s.handleSaveAccount)
	api.DELETE("/accounts/:id", s.handleDeleteAccount)
	api.PUT("/accounts/default", s.handleSetDefaultAccount)
	api.POST("/accounts/current", s.handleSetCurrentAccount)
	api.POST("/accounts/refresh", s.handleRefreshAccounts)

	// Websocket event stream (secret via query parameter, browsers cannot
	// set headers on websocket upgrades).
	s.echo.GET("/ws/events", s.handleEvents, s.requireSecret)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(c echo.Context) error {
	if err := s.redis.Ping(c.Request().Context()).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  "redis unreachable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
