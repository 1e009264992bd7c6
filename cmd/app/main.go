package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mentorship/internal/api/v1/router"
	"mentorship/internal/bootstrap"
	"mentorship/internal/config"
	"mentorship/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load configuration
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Msgf("Error loading config: %v", err)
	}

	logger := logger.New(cfg.LogLevel)
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// 2. Wire services (and get DB connection)
	app, err := bootstrap.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize application: %v", err)
	}
	defer app.Close()

	// 3. Create HTTP server. Batch passes can run for minutes, so the write
	// timeout follows the job timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(cfg, app, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.JobTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. Start server in a goroutine
	go func() {
		logger.Info().Msgf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Msgf("Listen: %s", err)
		}
	}()

	// 5. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Msgf("Server forced to shutdown: %v", err)
		return
	}
	logger.Info().Msg("Server shut down gracefully")
}
