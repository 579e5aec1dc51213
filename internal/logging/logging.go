// Package logging builds the JSON slog logger shared by the server and CLI.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"msgbox/internal/security"
)

// TimeKey replaces slog's default "time" key
const TimeKey = "ts"

// New returns a JSON logger writing one record per line to w
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: ReplaceAttr,
	}))
}

// ReplaceAttr renders the record time as a UTC second-precision "ts",
// prints WARN as WARNING and drops empty messages.
func ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}

	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			return slog.String(TimeKey, t.UTC().Format("2006-01-02T15:04:05Z"))
		}
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == slog.LevelWarn {
			return slog.String(slog.LevelKey, "WARNING")
		}
	case slog.MessageKey:
		if a.Value.String() == "" {
			return slog.Attr{}
		}
	}
	return a
}

// Setup builds the process logger. Output always goes to stdout and is
// also appended to logPath when it is set. The returned closer must be
// called on shutdown.
func Setup(logPath string, level slog.Level) (*slog.Logger, io.Closer, error) {
	if logPath == "" {
		return New(os.Stdout, level), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return New(io.MultiWriter(os.Stdout, file), level), file, nil
}
