// Package logging provides the narrow logger interface the rest of the
// module depends on, so packages never import logrus directly (only
// cmd/wellenbrecher constructs the concrete logger).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a structured logging context, e.g. {"shard": 3, "uid": 42}.
type Fields map[string]interface{}

// Logger is the subset of logrus's API the rest of the module uses.
type Logger interface {
	WithFields(Fields) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger at the given level ("debug", "info", "warn",
// "error") and format ("text" or "json").
func New(level, format string) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) WithFields(f Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(f))}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

// Nop is a Logger that discards everything, used by tests that don't
// care about log output.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
