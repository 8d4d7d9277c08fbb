// Package logging configures structured logging for OpenChat.
//
// Server and client both log through log/slog. Chat traffic itself is never
// logged; operators see it on the console output instead, so logs default to
// stderr and the client defaults to "off".
//
// Usage:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json", Component: "server"})
//	slog.Info("stream listening", "addr", addr)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelOff disables logging entirely.
const LevelOff = "off"

// Options controls how logging is configured.
type Options struct {
	Level     string    // "debug", "info", "warn", "error", "off" (default: "info")
	Format    string    // "text" or "json" (default: "text")
	Output    io.Writer // where to write logs (default: os.Stderr)
	Component string    // added as a "component" attribute when set
}

// ParseLevel converts a string level name to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger from opts without installing it.
func New(opts Options) (*slog.Logger, error) {
	if err := Validate(opts.Level); err != nil {
		return nil, err
	}
	if isOff(opts.Level) {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // include file:line in debug mode
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Component != "" {
		logger = logger.With("component", opts.Component)
	}
	return logger, nil
}

// Setup installs the logger described by opts as the slog default.
// Safe to call early in main() before any logging occurs.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error, off"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", LevelOff, "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
}

func isOff(level string) bool {
	return strings.EqualFold(strings.TrimSpace(level), LevelOff)
}
