package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// Level orders log severities
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	return levelNames[l]
}

// ParseLevel reads "debug", "info", "warn" or "error", defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// minLevel is shared by every logger
var minLevel atomic.Int32

func init() {
	minLevel.Store(int32(LevelDebug))
}

// SetLevel drops messages below level for all loggers
func SetLevel(level Level) {
	minLevel.Store(int32(level))
}

// Logger is a wrapper around the standard library logger
type Logger struct {
	*log.Logger
	component string
}

// New creates a new logger tagged with a component name
func New(component string) *Logger {
	return NewWithWriter(os.Stdout, component)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, component string) *Logger {
	return &Logger{
		Logger:    log.New(w, "", 0),
		component: component,
	}
}

// With returns a logger for a sub-component, e.g. one chat
func (l *Logger) With(name string) *Logger {
	component := name
	if l.component != "" {
		component = l.component + "/" + name
	}
	return &Logger{Logger: l.Logger, component: component}
}

// formatMessage formats a log message with timestamp and component
func (l *Logger) formatMessage(level Level, format string, v ...interface{}) string {
	timestamp := time.Now().Format(time.RFC3339)
	message := fmt.Sprintf(format, v...)

	if l.component != "" {
		return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, level, l.component, message)
	}

	return fmt.Sprintf("[%s] [%s] %s", timestamp, level, message)
}

func (l *Logger) output(level Level, format string, v ...interface{}) {
	if int32(level) < minLevel.Load() {
		return
	}
	l.Logger.Println(l.formatMessage(level, format, v...))
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.output(LevelInfo, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.output(LevelError, format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(LevelDebug, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.output(LevelWarn, format, v...)
}

// Fatal logs an error message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.Logger.Println(l.formatMessage(LevelError, format, v...))
	os.Exit(1)
}

// Global logger instance for application-wide logging
var Global = New("")

// SetGlobal sets the global logger
func SetGlobal(logger *Logger) {
	Global = logger
}
