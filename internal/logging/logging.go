// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// App is attached to every log line.
const App = "irrigation-controller"

// Options selects the log level and output format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
}

// New returns a logger writing to stdout and installs it as the global
// zerolog logger.
func New(opts Options) zerolog.Logger {
	logger := NewWithWriter(opts, os.Stdout)
	log.Logger = logger
	return logger
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(opts Options, w io.Writer) zerolog.Logger {
	out := w
	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Str("app", App).
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Component derives a child logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
