package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/storylab/scribe/internal/auth"
	"github.com/storylab/scribe/internal/config"
	"github.com/storylab/scribe/internal/connection"
	"github.com/storylab/scribe/internal/llm"
	"github.com/storylab/scribe/internal/repository"
	"github.com/storylab/scribe/internal/repository/postgres"
	"github.com/storylab/scribe/internal/server"
	"github.com/storylab/scribe/internal/service"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting scribe service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	// Initialize repositories
	settingsRepo := postgres.NewSettingsRepo(db)
	promptRepo := postgres.NewPromptRepo(db)
	compendiumRepo := postgres.NewCompendiumRepo(db)

	// Resume the last verified connection configuration, if any
	mode := connection.ModeLocal
	endpoint := cfg.CompletionURL
	saved, err := settingsRepo.Get(ctx)
	switch {
	case err == nil:
		mode = connection.Mode(saved.Mode)
		if saved.Endpoint != "" {
			endpoint = saved.Endpoint
		}
		slog.Info("loaded saved connection settings", "mode", saved.Mode, "endpoint", saved.Endpoint)
	case errors.Is(err, repository.ErrNotFound):
		slog.Info("no saved connection settings, using defaults", "endpoint", endpoint)
	default:
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Connection session and lifecycle manager
	session := connection.NewSession(mode, endpoint)
	manager := connection.NewManager(session, settingsRepo, connection.Config{
		MaxAttempts:  cfg.HealthMaxAttempts,
		ProbeTimeout: cfg.HealthProbeTimeout,
		RetryDelay:   cfg.HealthRetryDelay,
		Logger:       slog.Default(),
	})

	// Re-validate the saved connection in the background so the service
	// comes up serving immediately; generation stays unavailable until the
	// backend is verified.
	if saved != nil {
		go func() {
			_, err := manager.Test(ctx, connection.TestParams{
				Mode:        connection.Mode(saved.Mode),
				Endpoint:    saved.Endpoint,
				Provider:    saved.Provider,
				APIKey:      saved.APIKey,
				Model:       saved.Model,
				Temperature: saved.Temperature,
				MaxTokens:   saved.MaxTokens,
				Revalidate:  true,
			})
			if err != nil {
				slog.Warn("startup connection test failed", "error", err)
			}
		}()
	}

	// Generation service
	generationSvc := service.NewGenerationService(
		promptRepo, compendiumRepo, settingsRepo, session, nil, slog.Default())

	// Auth
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "scribe-service",
	})
	authMW := auth.NewMiddleware(jwtManager, cfg.AdminAPIKey)

	// HTTP server
	handlers := server.NewHandlers(
		generationSvc, manager, promptRepo, compendiumRepo, authMW, slog.Default())
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
	}, handlers)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.SettingsRepository   = (*postgres.SettingsRepo)(nil)
	_ repository.PromptRepository     = (*postgres.PromptRepo)(nil)
	_ repository.CompendiumRepository = (*postgres.CompendiumRepo)(nil)
	_ llm.Engine                      = (*llm.CompletionClient)(nil)
)
