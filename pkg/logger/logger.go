// Package logger builds the process wide slog logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

var errNilOptions = errors.New("logger options are required")

type Options struct {
	AddSource bool
	Level     string
	// Format is "json" (default) or "text".
	Format string
	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// New builds the logger and installs it as the slog default. An unknown
// level or format is reported but still yields a usable info level JSON logger.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, errNilOptions
	}

	level, levelErr := ParseLevel(opt.Level)

	w := opt.Writer
	if w == nil {
		w = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{AddSource: opt.AddSource, Level: level}

	var (
		handler   slog.Handler
		formatErr error
	)

	switch strings.ToLower(opt.Format) {
	case "", FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	case FormatText:
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		handler = slog.NewJSONHandler(w, handlerOpts)
		formatErr = fmt.Errorf("unknown log format: %q", opt.Format)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log, errors.Join(levelErr, formatErr)
}

// ParseLevel converts a string level to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}
