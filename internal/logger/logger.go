package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. level is a zerolog level name; an empty or
// unknown value falls back to debug.
func New(level ...string) zerolog.Logger {
	// For Google Cloud Logging, the level field name should be "severity".
	// This allows Cloud Logging to automatically parse the log level.
	zerolog.LevelFieldName = "severity"

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Use ConsoleWriter for local development for more readable logs.
	if os.Getenv("ENV") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	lvl := zerolog.DebugLevel
	if len(level) > 0 && level[0] != "" {
		if parsed, err := zerolog.ParseLevel(level[0]); err == nil && parsed != zerolog.NoLevel {
			lvl = parsed
		}
	}
	return logger.Level(lvl)
}
