// Package logging sets up the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
)

// Formats accepted by Options.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options describes the log destination. With File empty, logs go to
// stderr; otherwise to a rotating file.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// ParseLevel maps a level name to its slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger for opts. Without a file, output goes to w. The
// returned closer releases the log file and must be called on exit.
func New(opts Options, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		l := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // megabytes
			MaxAge:     opts.MaxAgeDays,
			MaxBackups: opts.MaxBackups,
		}
		w, closer = l, l
	}

	hopts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		handler = slog.NewTextHandler(w, hopts)
	case FormatJSON:
		handler = slog.NewJSONHandler(w, hopts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(handler), closer, nil
}

// Setup builds a logger writing to stderr and installs it as the slog default.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	logger, closer, err := New(opts, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}
