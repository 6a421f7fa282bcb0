// Package logger builds the text slog loggers used by the simulator.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New returns a text logger writing to w at the named level. An unknown
// level falls back to INFO and is reported as a warning.
func New(w io.Writer, levelStr string) *slog.Logger {
	level, err := ParseLevel(levelStr)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	if err != nil {
		logger.Warn(err.Error())
	}
	return logger
}

// Init writes to stderr and, when logPath is set, to the file as well,
// and installs the logger as the slog default.
func Init(logPath, levelStr string) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
		}
		w = io.MultiWriter(os.Stderr, logFile)
	}
	logger := New(w, levelStr)
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel converts DEBUG, INFO, WARN or ERROR to a slog level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q, using INFO", levelStr)
	}
}
