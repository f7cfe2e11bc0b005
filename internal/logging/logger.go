package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/certkeeper/internal/config"
)

// NewLogger creates a structured zerolog.Logger for the CLI. The level
// comes from the config with an info fallback.
func NewLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
