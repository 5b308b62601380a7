package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rfavre/ovhsentry/internal/bus"
	"github.com/rfavre/ovhsentry/internal/config"
	"github.com/rfavre/ovhsentry/internal/logging"
	"github.com/rfavre/ovhsentry/internal/ovhapi"
	"github.com/rfavre/ovhsentry/internal/probe"
	"github.com/rfavre/ovhsentry/internal/redis"
	"github.com/rfavre/ovhsentry/internal/registry"
	"github.com/rfavre/ovhsentry/internal/server"
	"github.com/rfavre/ovhsentry/internal/session"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	store := redis.NewCredentialStore(redisClient)
	backend := ovhapi.NewClient(cfg.BackendURL, cfg.HTTPTimeout, store)
	accounts := registry.New(backend)
	prober := probe.New(backend, clock, cfg.ProbeEmptyAsDegraded)
	authBus := bus.New()

	manager := session.NewManager(store, backend, accounts, prober, authBus, clock)

	// Best-effort warm-up; without a stored access secret the operator
	// bootstraps via POST /api/secret instead.
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	manager.Boot(bootCtx)
	if hasSecret, _ := store.HasAccessSecret(bootCtx); hasSecret {
		if err := manager.RefreshAccounts(bootCtx); err != nil {
			slog.Warn("Initial account refresh failed", "error", err)
		}
	}
	cancel()

	srv := server.NewServer(cfg, manager, store, authBus, redisClient)

	done := runGracefulShutdown(srv)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
