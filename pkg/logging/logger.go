// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for sentinel components.
//
// The sentinel is a long-running daemon whose log stream doubles as the
// audit trail for autonomous remediation, so every component logs
// through slog with a shared set of attributes. This package builds the
// slog handler stack the daemon installs as the process default:
//
//   - stderr output (text for humans, JSON for collectors)
//   - an optional JSON log file per service and day
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{
//	    Service: "sentinel",
//	    JSON:    true,
//	    LogDir:  "~/.sentinel/logs", // supports ~ expansion
//	})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// File logs are named "{service}_{YYYY-MM-DD}.log" and are always JSON
// regardless of the stderr format.
//
// # Log Levels
//
// Levels follow slog conventions. Debug is for tracing the detection
// and healing loops, Info for state changes (fault admitted, action
// succeeded), Warn for degraded operation (provider unavailable, probe
// retry), Error for failed operations the daemon survives.
//
// # Thread Safety
//
// Logger is safe for concurrent use; slog handlers are thread-safe and
// Close is guarded by a mutex.
//
// # Security Considerations
//
// Nothing here redacts sensitive data. Remediation commands and probe
// targets are logged verbatim; callers must keep tokens and secrets
// out of log attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger. The zero value logs Info+ to stderr in
// text format with no file output.
type Config struct {
	// Level is the minimum level emitted. Default: slog.LevelInfo.
	Level slog.Level

	// LogDir enables file logging to the given directory. The directory
	// is created with 0750 permissions if missing. Supports ~ expansion:
	//   "~/.sentinel/logs" -> "/home/user/.sentinel/logs"
	// Default: "" (file logging disabled).
	LogDir string

	// Service tags every entry with a "service" attribute and names the
	// log file. Default: "sentinel".
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet disables stderr output; logs go only to the file, if any.
	Quiet bool

	// Stderr overrides the stderr destination. Tests use this; the
	// daemon leaves it nil.
	Stderr io.Writer
}

// ParseLevel maps a level name ("debug", "info", "warn", "error",
// case-insensitive) to its slog.Level.
//
// # Outputs
//
//   - slog.Level: The parsed level.
//   - error: Unrecognized name; the returned level is slog.LevelInfo.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// =============================================================================
// Logger
// =============================================================================

// Logger owns the handler stack and the log file handle.
type Logger struct {
	slog    *slog.Logger
	config  Config
	mu      sync.Mutex
	file    *os.File
	fileErr error
}

// New builds a Logger from the configuration.
//
// File-open failures do not fail construction: the logger falls back
// to stderr-only and records the error, retrievable via FileError.
// A daemon should not die because its log directory is read-only.
func New(config Config) *Logger {
	if config.Service == "" {
		config.Service = "sentinel"
	}
	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	l := &Logger{config: config}
	opts := &slog.HandlerOptions{Level: config.Level}

	var handlers []slog.Handler
	if !config.Quiet {
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(stderr, opts))
		}
	}
	if config.LogDir != "" {
		if f, err := openLogFile(config.LogDir, config.Service); err != nil {
			l.fileErr = err
		} else {
			l.file = f
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, opts)
	case 1:
		h = handlers[0]
	default:
		h = fanoutHandler(handlers)
	}
	l.slog = slog.New(h).With("service", config.Service)
	return l
}

// Default returns a stderr-only logger with production defaults.
func Default() *Logger {
	return New(Config{})
}

// Slog returns the underlying slog.Logger, for slog.SetDefault and for
// passing to libraries that accept one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a Logger that includes the given attributes in every
// entry. The returned Logger shares the parent's file handle; only the
// parent's Close releases it.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
	}
}

// FileError reports why file logging is disabled, or nil.
func (l *Logger) FileError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fileErr
}

// Close syncs and closes the log file. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Debug logs at slog.LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at slog.LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at slog.LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at slog.LevelError.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// =============================================================================
// File Handling
// =============================================================================

// openLogFile opens (appending) today's log file under dir.
func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// expandPath resolves a leading ~ to the user's home directory:
//   - "~/.sentinel/logs" -> "/home/user/.sentinel/logs"
//
// Paths without a leading ~ are returned unchanged, as is the input
// when the home directory cannot be determined.
func expandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// =============================================================================
// Fan-out Handler
// =============================================================================

// fanoutHandler duplicates records across handlers so stderr and the
// file see the same stream.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, hh := range h {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
