// Package logging bootstraps the process-wide zerolog.Logger every
// other package derives its component logger from via
// logger.With().Str("component", name).Logger(), matching the teacher
// repo's child-logger convention.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a root logger per LoggingConfig: level controls verbosity,
// format selects between a human-readable console writer and
// machine-parseable JSON.
func New(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var writer zerolog.ConsoleWriter
	var logger zerolog.Logger
	switch format {
	case "console":
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(writer)
	default:
		logger = zerolog.New(os.Stdout)
	}

	logger = logger.Level(lvl).With().Timestamp().Logger()
	return logger, nil
}

// SetLevel updates logger's minimum level in place (used by the
// config-reload hot path; see config.WatchLogLevel).
func SetLevel(logger *zerolog.Logger, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	*logger = logger.Level(lvl)
	return nil
}
