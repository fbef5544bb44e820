// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var level = new(slog.LevelVar)

// Configure installs a text or json handler writing to w as the default
// logger and returns it. The level can be changed later with SetLevel.
func Configure(w io.Writer, format, levelName string) (*slog.Logger, error) {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	level.Set(lvl)

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q: valid options are 'text', 'json'", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func SetLevel(levelName string) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	level.Set(lvl)
	return nil
}

func Level() slog.Level {
	return level.Level()
}

func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: valid options are 'debug', 'info', 'warn', 'error'", name)
	}
}
