// Package logging provides the process-wide structured logger.
//
// It keeps a small levelled helper API (Debug, Info, Warn, Error taking a
// message and a field map) on top of zerolog so call sites stay terse, and
// can mirror output to a rotating file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is attached to a log line as top-level keys.
type Fields = map[string]any

// Options controls where and how log lines are written.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Empty means info.
	Level string
	// Format is "json" or "console".
	Format string
	// File, when set, receives a copy of every line and is rotated by size.
	File string
}

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Setup replaces the process logger according to opts.
func Setup(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	var console io.Writer = os.Stdout
	if opts.Format != "json" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Stamp}
	}

	writers := []io.Writer{console}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}

	l := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
	return nil
}

// SetOutput sends JSON lines at debug level to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	l := zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the current process logger.
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

func event(level zerolog.Level) *zerolog.Event {
	mu.RLock()
	defer mu.RUnlock()
	return logger.WithLevel(level)
}

// Debug logs a debug message
func Debug(msg string, fields Fields) {
	event(zerolog.DebugLevel).Fields(fields).Msg(msg)
}

// Info logs an info message
func Info(msg string, fields Fields) {
	event(zerolog.InfoLevel).Fields(fields).Msg(msg)
}

// Warn logs a warning message
func Warn(msg string, fields Fields) {
	event(zerolog.WarnLevel).Fields(fields).Msg(msg)
}

// Error logs an error message
func Error(msg string, fields Fields, err error) {
	event(zerolog.ErrorLevel).Fields(fields).Err(err).Msg(msg)
}
