package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"mentorship/internal/bootstrap"
	"mentorship/internal/config"
	"mentorship/internal/logger"
	"mentorship/internal/scheduler"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "cron", "Scheduler mode: cron|once")
	job := flag.String("job", "", "Job to run with -mode=once: session-status|subscription-renewal|trial-expiry")
	flag.Parse()

	// Load environment variables
	envErr := godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		l := logger.New()
		l.Fatal().Msgf("Error loading config: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)
	if envErr != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize application: %v", err)
	}
	defer app.Close()

	jobs := scheduler.Jobs(app.Sessions, app.Renewals, scheduler.Schedules{
		SessionStatus: cfg.SessionStatusSchedule,
		Renewal:       cfg.RenewalSchedule,
		TrialExpiry:   cfg.TrialExpirySchedule,
	}, logger)
	s, err := scheduler.New(jobs, cfg.JobTimeout, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to build scheduler: %v", err)
	}

	// Dispatch to the selected mode
	switch *mode {
	case "once":
		if err := s.RunOnce(ctx, *job); err != nil {
			logger.Error().Err(err).Str("job", *job).Msg("Job failed")
			cancel()
			app.Close()
			// non-zero exit so a job runner can retry
			logger.Fatal().Msg("Exiting with failure")
		}
	case "cron":
		s.Start()
		logger.Info().Strs("jobs", s.Names()).Msg("Cron jobs started successfully")
		<-ctx.Done()
		logger.Info().Msg("Shutting down gracefully...")

		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		if err := s.Stop(stopCtx); err != nil {
			logger.Warn().Msg("Cron jobs forced to stop after timeout")
			return
		}
		logger.Info().Msg("Cron jobs stopped gracefully")
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}
}
