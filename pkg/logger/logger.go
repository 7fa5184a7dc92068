package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger tagged with the daemon's service name.
// Subsystems derive their own logger from it with Component.
func New(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// Component derives a child logger tagged with a subsystem name. A nil
// parent passes through so constructors need no guard of their own.
func Component(parent *slog.Logger, name string) *slog.Logger {
	if parent == nil {
		return nil
	}
	return parent.With("component", name)
}
