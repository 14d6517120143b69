// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the handler and sinks.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text (default) or json
	// File, when set, receives a copy of every record, rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is the configured logger plus the handles needed to adjust or
// release it later.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

// ParseLevel maps a level name onto slog; unknown names are an error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds a logger writing to stderr and, optionally, a rotated file.
func New(opts Options) (*Logger, error) {
	return newWithWriter(os.Stderr, opts)
}

func newWithWriter(console io.Writer, opts Options) (*Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(lvl)

	l := &Logger{level: levelVar}
	out := console
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			LocalTime:  true,
		}
		out = io.MultiWriter(console, l.file)
	}

	hopts := &slog.HandlerOptions{Level: levelVar}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		h = slog.NewJSONHandler(out, hopts)
	case "", "text":
		h = slog.NewTextHandler(out, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	l.Logger = slog.New(h)
	return l, nil
}

// SetLevel changes the level of the running logger.
func (l *Logger) SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

// Level reports the current level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
