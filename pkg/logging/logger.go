// Package logging configures the process-wide zerolog logger and hands out
// per-component loggers derived from it.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written.
	Level zerolog.Level

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Environment, when set, is attached to every record as "env".
	Environment string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON info logging to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  zerolog.InfoLevel,
		Output: os.Stderr,
	}
}

// ConfigForEnvironment returns JSON info logging for production and
// pretty debug logging everywhere else.
func ConfigForEnvironment(env string) Config {
	cfg := DefaultConfig()
	cfg.Environment = env
	switch strings.ToLower(env) {
	case "production", "prod":
	default:
		cfg.Level = zerolog.DebugLevel
		cfg.Pretty = true
	}
	return cfg
}

// ParseLevel accepts debug, info, warn (or warning) and error in any case.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Environment != "" {
		ctx = ctx.Str("env", cfg.Environment)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// NewLogger returns the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Levels in use:
//
// Debug: pool acquisitions and releases, retry backoff decisions, single
// pages fetched.
//
// Info: operations that succeeded after a retry, token refreshes and
// authorizations, finished aggregations and syncs, server start and stop.
//
// Warn: failed attempts that will be retried, partial aggregations, rate
// limit throttling, credentials cleared after a refused refresh.
//
// Error: exhausted retries, resources that could not be returned to their
// pool, configuration errors.
//
// Common fields: component, pool, resource_id, attempt (zero based),
// error_kind, page (one based), records, next, state, request_id.
