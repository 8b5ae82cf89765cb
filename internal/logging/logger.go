// Package logging configures zerolog the way the rest of the pack does:
// JSON by default for log-aggregator consumption, an optional pretty writer
// for local development, and a couple of goroutine-safety helpers so a
// panic in one monitor tick never takes down the process.
package logging

import (
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the accepted LOG_LEVEL config values.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Format selects the writer used for log output.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config controls how New builds the root logger.
type Config struct {
	Level  Level
	Format Format
}

// New builds the root logger for the service. Every component-specific
// logger should be derived from it via .With().Str("component", name).
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(string(cfg.Level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer zerolog.ConsoleWriter
	base := zerolog.New(os.Stdout)
	if cfg.Format == FormatPretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		base = zerolog.New(writer)
	}

	return base.With().Timestamp().Caller().Str("service", "netmon").Logger()
}

// LogError logs err at error level with component context.
func LogError(logger zerolog.Logger, component string, err error, msg string) {
	logger.Error().Str("component", component).Err(err).Msg(msg)
}

// LogErrorWithStack attaches a captured stack trace, for errors surfaced
// from a goroutine far from where they will be read.
func LogErrorWithStack(logger zerolog.Logger, component string, err error, msg string) {
	logger.Error().
		Str("component", component).
		Err(err).
		Str("stack", string(debug.Stack())).
		Msg(msg)
}

// RecoverPanic should be deferred at the top of every long-running
// goroutine. It logs and swallows the panic rather than exiting the
// process — a single monitor tick's panic must not take the service down.
func RecoverPanic(logger zerolog.Logger, goroutineName string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("recovered from panic")
	}
}
