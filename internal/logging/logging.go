// Package logging builds the structured slog.Logger shared by every
// component, following services/gamification's app/logger.go and
// circuit_breaker/logging.go conventions: write to stdout and an
// append-only log file (not rotated), never to a package-level global.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// New opens logPath (creating parent directories as needed) and returns a
// slog.Logger that writes structured entries to both stdout and the file.
// The returned close func must be deferred by the caller.
func New(logPath string, level slog.Level) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	w := io.MultiWriter(os.Stdout, f)
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)
	return logger, f.Close, nil
}

// Discard returns a logger that drops everything, used as a safe default
// when a caller does not wire one in explicitly (e.g. in unit tests).
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
