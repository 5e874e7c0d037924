package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger = zerolog.Nop()

// Init initializes the global structured logger. Level is one of debug,
// info, warn, error.
func Init(level string) {
	InitWithWriter(level, os.Stderr)
}

// InitWithWriter initializes the logger against an explicit writer, which
// tests use to capture output.
func InitWithWriter(level string, w io.Writer) {
	var lvl zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Logger returns the global logger instance.
func Logger() zerolog.Logger {
	return logger
}

// Debug logs a debug message with alternating key/value fields.
func Debug(msg string, kv ...any) {
	logger.Debug().Fields(kv).Msg(msg)
}

// Info logs an info message with alternating key/value fields.
func Info(msg string, kv ...any) {
	logger.Info().Fields(kv).Msg(msg)
}

// Warn logs a warning message with alternating key/value fields.
func Warn(msg string, kv ...any) {
	logger.Warn().Fields(kv).Msg(msg)
}

// Error logs an error message with alternating key/value fields.
func Error(msg string, kv ...any) {
	logger.Error().Fields(kv).Msg(msg)
}
