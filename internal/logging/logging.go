// Package logging builds HelpHub's structured logger, grounded directly
// on the teacher's internal/single/monitoring/logger.go: zerolog with a
// JSON or pretty-console writer, timestamp, caller info, and helpers for
// logging recovered panics.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for the "helphub" service. level must be
// one of debug/info/warn/error (already validated by internal/config);
// format is "json" or "pretty".
func New(level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))

	var output io.Writer = os.Stdout
	if format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "helphub").
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogPanic logs a recovered panic with a full stack trace. Intended for
// defer/recover blocks guarding long-lived goroutines (session loops,
// the sweeper) so one panicking session cannot silently take down the
// process without a trace.
func LogPanic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
