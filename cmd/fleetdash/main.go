package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetdash/fleetdash/pkg/config"
	"github.com/fleetdash/fleetdash/pkg/connection"
	"github.com/fleetdash/fleetdash/pkg/core"
	"github.com/fleetdash/fleetdash/pkg/core/api"
	"github.com/fleetdash/fleetdash/pkg/logger"
	"github.com/fleetdash/fleetdash/pkg/settings"
	"github.com/fleetdash/fleetdash/pkg/transport"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetdash/fleetdash.json", "Path to fleetdash config file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := logger.Config{Level: "info", Output: "stdout"}
	if cfg.Logging != nil {
		logConfig = *cfg.Logging
	}

	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mainLogger := logger.WithComponent("fleetdash")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub(logger.WithComponent("stream"))

	svc := core.NewService(core.ServiceOptions{
		Transport:       transport.NewWebSocket(cfg.ChannelEndpoint, logger.WithComponent("transport")),
		Provider:        settings.NewHTTPProvider(cfg.SettingsURL, logger.WithComponent("settings")),
		Broadcaster:     hub,
		RefreshInterval: time.Duration(cfg.SettingsRefreshInterval),
		Reconnect: connection.Config{
			SeedDelay:   time.Duration(cfg.Reconnect.SeedDelay),
			MaxDelay:    time.Duration(cfg.Reconnect.MaxDelay),
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		ActivityCapacity: cfg.ActivityCapacity,
		Logger:           logger.Global(),
	})

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	server := api.NewAPIServer(svc,
		api.WithLogger(logger.WithComponent("api")),
		api.WithAPIKey(cfg.APIKey),
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithHub(hub),
	)

	serverErr := make(chan error, 1)

	go func() {
		if err := server.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("dashboard API failed: %w", err)
	case <-ctx.Done():
		mainLogger.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.Error().Err(err).Msg("Dashboard API shutdown failed")
	}

	return nil
}
