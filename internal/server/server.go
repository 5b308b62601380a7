// Package server exposes the session manager to the browser UI over a JSON
// API plus a websocket event stream.
package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rfavre/ovhsentry/internal/bus"
	"github.com/rfavre/ovhsentry/internal/config"
	"github.com/rfavre/ovhsentry/internal/domain"
	"github.com/rfavre/ovhsentry/internal/session"
)

// sessionManager is the slice of session.Manager the handlers need.
type sessionManager interface {
	Boot(ctx context.Context)
	VerifyAuthentication(ctx context.Context) bool
	SaveCredentials(ctx context.Context, settings domain.Settings) error
	SetCurrentAccount(ctx context.Context, id string) error
	RefreshAccounts(ctx context.Context) error
	SaveAccount(ctx context.Context, account domain.Account) error
	DeleteAccount(ctx context.Context, id string) error
	SetDefaultAccount(ctx context.Context, id string) error
	SetAccessSecret(ctx context.Context, secret string) error
	Statuses() map[string]domain.AccountStatus
	State() session.State
}

type Server struct {
	echo    *echo.Echo
	config  *config.Config
	manager sessionManager
	store   domain.CredentialStore
	events  *EventStream
	redis   *goredis.Client
}

func NewServer(cfg *config.Config, manager sessionManager, store domain.CredentialStore, authBus *bus.Bus, redisClient *goredis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:    e,
		config:  cfg,
		manager: manager,
		store:   store,
		events:  NewEventStream(authBus),
		redis:   redisClient,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	return s.echo.Start(":" + s.config.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Stop()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
