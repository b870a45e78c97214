package auth

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is an interface for logging during authentication.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// logrusLogger adapts a logrus entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps l as a Logger.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// NewLogger builds a logrus-backed Logger. level is any logrus level name
// (default "info"), format is "text" (default) or "json".
func NewLogger(level, format string) (Logger, error) {
	l := logrus.New()

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return NewLogrusLogger(l), nil
}

func defaultLogger() Logger {
	return NewLogrusLogger(logrus.StandardLogger())
}

func (l *logrusLogger) Info(msg string, args ...any) {
	l.entry.Infof(msg, args...)
}

func (l *logrusLogger) Warn(msg string, args ...any) {
	l.entry.Warnf(msg, args...)
}

func (l *logrusLogger) Debug(msg string, args ...any) {
	l.entry.Debugf(msg, args...)
}
