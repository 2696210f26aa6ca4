package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. It is usable before Init and writes
// to stderr at info level until configured.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

type Config struct {
	Level      string
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Nop returns a disabled logger for tests and optional collaborators.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
