// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

package logging

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// slogBridge adapts slog.Handler onto zerolog so libraries that demand an
// slog.Logger (sutureslog for supervisor events) still write through the
// agent's pipeline. Group names become dotted key prefixes.
type slogBridge struct {
	logger zerolog.Logger
	base   []slog.Attr
	prefix []string
}

// NewSlogHandler returns a handler over the package logger.
func NewSlogHandler() slog.Handler {
	return &slogBridge{logger: Logger()}
}

// NewSlogLogger returns an slog.Logger backed by zerolog:
//
//	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
func NewSlogLogger() *slog.Logger {
	return slog.New(NewSlogHandler())
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	floor := b.logger.GetLevel()
	if g := zerolog.GlobalLevel(); g > floor {
		floor = g
	}
	return levelFromSlog(level) >= floor
}

//nolint:gocritic // slog.Record is passed by value per the slog.Handler interface
func (b *slogBridge) Handle(_ context.Context, record slog.Record) error {
	event := b.logger.WithLevel(levelFromSlog(record.Level))

	// Bound attrs carry their prefix from bind time; only record attrs
	// take the handler's current one.
	for _, attr := range b.base {
		event = field(event, attr, nil)
	}
	record.Attrs(func(attr slog.Attr) bool {
		event = field(event, attr, b.prefix)
		return true
	})

	event.Msg(record.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		attr.Key = joinKey(b.prefix, attr.Key)
		bound[i] = attr
	}
	clone := *b
	clone.base = append(slices.Clip(b.base), bound...)
	return &clone
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	clone := *b
	clone.prefix = append(slices.Clip(b.prefix), name)
	return &clone
}

// field appends one slog attribute to the event under its prefixed key.
// Groups recurse; an empty group is dropped and an unnamed one inlines
// its members, per the slog handler contract.
func field(event *zerolog.Event, attr slog.Attr, prefix []string) *zerolog.Event {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return event
	}

	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		if len(members) == 0 {
			return event
		}
		sub := prefix
		if attr.Key != "" {
			sub = append(slices.Clip(prefix), attr.Key)
		}
		for _, member := range members {
			event = field(event, member, sub)
		}
		return event
	}

	key := joinKey(prefix, attr.Key)

	switch attr.Value.Kind() {
	case slog.KindBool:
		return event.Bool(key, attr.Value.Bool())
	case slog.KindString:
		return event.Str(key, attr.Value.String())
	case slog.KindInt64:
		return event.Int64(key, attr.Value.Int64())
	case slog.KindUint64:
		return event.Uint64(key, attr.Value.Uint64())
	case slog.KindFloat64:
		return event.Float64(key, attr.Value.Float64())
	case slog.KindTime:
		return event.Time(key, attr.Value.Time())
	case slog.KindDuration:
		return event.Dur(key, attr.Value.Duration())
	default:
		return event.Interface(key, attr.Value.Any())
	}
}

func joinKey(prefix []string, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return strings.Join(prefix, ".") + "." + name
}

// levelFromSlog buckets slog levels onto zerolog's scale. slog levels are
// open-ended integers, so anything at error or above stays error.
func levelFromSlog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	case level >= slog.LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}
