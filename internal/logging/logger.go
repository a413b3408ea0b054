package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON slog logger on stdout tagged with the service name. An
// invalid level falls back to info.
func New(level, service string) *slog.Logger {
	return newLogger(os.Stdout, level, service)
}

func newLogger(w io.Writer, level, service string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	if service != "" {
		logger = logger.With(slog.String("service", service))
	}
	return logger
}

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
