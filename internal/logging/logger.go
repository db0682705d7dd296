// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package logging is the agent's zerolog funnel.
//
// Every component logs through the package-level helpers so records share
// one sink and one schema: JSON on stderr for shippers, console format
// when a human is watching. Records carry structured fields (queue depth,
// tracking status, delivery channel) rather than formatted prose, which
// keeps a shift's worth of agent output greppable.
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("status", "active").Msg("Tracking started")
//
// Chains must end in .Msg or .Send; zerolog silently drops an
// unterminated chain.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the sink, format, and level floor for agent logging.
type Config struct {
	// Level is the floor: trace, debug, info, warn, error, or fatal.
	// Unset or unknown values mean info.
	Level string

	// Format picks json (default) or console output.
	Format string

	// Caller stamps records with file:line. Off unless debugging.
	Caller bool

	// Timestamp stamps records with the wall clock.
	Timestamp bool

	// Output receives the records. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig is what the agent logs with before Init is called.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

var (
	root zerolog.Logger
	mu   sync.RWMutex
)

//nolint:gochecknoinits // records emitted before main reaches Init still need a sink
func init() {
	configure(DefaultConfig())
}

// Init reconfigures the package logger. main calls it once the
// configuration is loaded; calling it again replaces the sink, which
// tests rely on to capture output.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	configure(cfg)
}

func configure(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var sink io.Writer = cfg.Output
	if cfg.Format == "console" {
		sink = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	builder := zerolog.New(sink).With()
	if cfg.Timestamp {
		builder = builder.Timestamp()
	}
	if cfg.Caller {
		builder = builder.Caller()
	}
	root = builder.Logger()
}

// parseLevel maps a config string onto a zerolog level. Unknown values
// fall back to info rather than failing the boot.
func parseLevel(s string) zerolog.Level {
	s = strings.ToLower(s)
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns a copy of the underlying zerolog.Logger for callers
// that want to derive their own.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// With opens a child context for a component-scoped logger:
//
//	uplink := logging.With().Str("component", "delivery").Logger()
func With() zerolog.Context {
	mu.RLock()
	defer mu.RUnlock()
	return root.With()
}

// Debug opens a debug-level event.
func Debug() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return root.Debug()
}

// Info opens an info-level event.
func Info() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return root.Info()
}

// Warn opens a warn-level event.
func Warn() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return root.Warn()
}

// Error opens an error-level event.
func Error() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return root.Error()
}

// Fatal opens a fatal-level event; zerolog exits the process once the
// event is sent.
func Fatal() *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return root.Fatal()
}
