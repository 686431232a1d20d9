// Package logging builds the zerolog logger shared by the client components.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcleod/labflow/internal/config"
)

// New creates a logger writing to w according to cfg. Unknown levels fall
// back to info.
func New(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.ToLower(cfg.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", "labflow").
		Logger()
}

// ParseLevel converts a level name to a zerolog level. It accepts every name
// zerolog does plus "warning", "off" and "none"; anything else is info.
func ParseLevel(raw string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch name {
	case "off", "none":
		return zerolog.Disabled
	case "warning":
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
