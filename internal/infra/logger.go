package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger. Development gets a human-readable
// console writer at debug level; every other environment emits JSON so the
// pipeline events (run id, attempt, verdict) stay machine-parseable.
func NewLogger(appEnv string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Level(zerolog.DebugLevel).
			Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}
