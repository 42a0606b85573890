// Package logging sets up the structured file log. The CLI keeps stdout for
// user-facing output; the log file under the config directory carries the
// detailed trail, rotated so it never grows unbounded.
package logging

import (
	"log/slog"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup returns a logger writing to <dir>/comfydock.log through a rotating
// writer (20 MB per file, 3 backups), filtered at the configured level.
// Unknown levels fall back to INFO.
func Setup(dir, level string) *slog.Logger {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "comfydock.log"),
		MaxSize:    20, // megabytes
		MaxBackups: 3,
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps the config file's level names onto slog levels. CRITICAL
// has no slog equivalent and maps to ERROR.
func ParseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
