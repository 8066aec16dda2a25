package logger

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// NewSlogLogger creates a standalone JSON logger writing to writer.
// It is meant for tests and bootstrap code that runs before the central logger exists.
func NewSlogLogger(writer io.Writer, level LogLevel, timezone *time.Location) Logger {
	if writer == nil {
		writer = os.Stdout
	}
	if timezone == nil {
		timezone = time.UTC
	}

	lvl := parseSlogLevel(level)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: lvl})

	return &moduleLogger{
		logger:   slog.New(handler),
		level:    lvl,
		timezone: timezone,
	}
}

// NewConsoleLogger creates a human-readable console logger for a single module.
func NewConsoleLogger(module string, level LogLevel) Logger {
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		module:   module,
		logger:   slog.New(newTextHandler(os.Stdout, lvl, time.Local)),
		level:    lvl,
		timezone: time.Local,
	}
}
