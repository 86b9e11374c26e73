// Package logging provides unified logging infrastructure for the project browser
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger with its optional file output
type Logger struct {
	zlog zerolog.Logger
	file *os.File
	mu   sync.Mutex
}

var (
	defaultLogger = newLogger(os.Stderr, zerolog.InfoLevel, nil)
	loggerMu      sync.RWMutex
)

func newLogger(w io.Writer, level zerolog.Level, file *os.File) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return &Logger{
		zlog: zerolog.New(w).Level(level).With().Timestamp().Logger(),
		file: file,
	}
}

// ParseLevel converts a configured level string, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Initialize sets up the logging system. Logs go to stderr so command output
// on stdout stays machine readable; logDir adds a file copy.
func Initialize(logDir, level string) error {
	var out io.Writer = os.Stderr
	var file *os.File

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		logPath := filepath.Join(logDir, "projectbrowser.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // log file is not secret
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stderr, f)
	}

	SetOutput(out, ParseLevel(level), file)
	Infof("Logging initialized (level=%s, dir=%q)", strings.ToLower(level), logDir)
	return nil
}

// SetOutput replaces the default logger. Tests use it to capture output.
func SetOutput(w io.Writer, level zerolog.Level, file *os.File) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = newLogger(w, level, file)
}

// Close closes the log file
func Close() error {
	loggerMu.RLock()
	l := defaultLogger
	loggerMu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func current() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return &defaultLogger.zlog
}

// With returns a child logger carrying a component field
func With(component string) zerolog.Logger {
	return current().With().Str("component", component).Logger()
}

// Printf logs a formatted message at info level
func Printf(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Infof logs an info message
func Infof(format string, v ...interface{}) {
	current().Info().Msgf(format, v...)
}

// Warnf logs a warning message
func Warnf(format string, v ...interface{}) {
	current().Warn().Msgf(format, v...)
}

// Errorf logs an error message
func Errorf(format string, v ...interface{}) {
	current().Error().Msgf(format, v...)
}

// Debugf logs a debug message
func Debugf(format string, v ...interface{}) {
	current().Debug().Msgf(format, v...)
}

// Err logs err with structured fields at error level
func Err(err error, msg string, fields map[string]interface{}) {
	current().Error().Err(err).Fields(fields).Msg(msg)
}
