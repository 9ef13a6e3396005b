package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryServer   Category = "server"
	CategoryTerminal Category = "terminal"
	CategoryWatcher  Category = "watcher"
	CategoryMirror   Category = "mirror"
	CategoryBus      Category = "bus"
	CategoryScripts  Category = "scripts"
)

// Config selects level, encoding and destination.
type Config struct {
	Level  string
	Format string // text or json
	Output io.Writer
}

// New builds the process logger.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a config level to slog; unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch Level(strings.ToLower(strings.TrimSpace(level))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// For returns a child logger tagged with the subsystem category.
func For(logger *slog.Logger, category Category) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With("component", string(category))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
