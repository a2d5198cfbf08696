package logger

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is a component-tagged logger. Error returns the wrapped error so
// callers can `return log.Error("context", err)` in one line.
type Logger struct {
	entry *logrus.Entry
	tag   string
}

var tagColor = color.New(color.FgCyan, color.Bold)

// New creates a logger tagged with the given component name.
func New(tag string) *Logger {
	return &Logger{
		entry: logrus.WithField("component", tag),
		tag:   tagColor.Sprintf("[%s]", tag),
	}
}

// msgf prefixes the formatted message with the colored component tag.
func (l *Logger) msgf(format string, args []interface{}) string {
	return l.tag + " " + fmt.Sprintf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debug(l.msgf(format, args))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Info(l.msgf(format, args))
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warn(l.msgf(format, args))
}

func (l *Logger) Success(format string, args ...interface{}) {
	l.entry.WithField("ok", true).Info(l.msgf(format, args))
}

// Error logs msg with err and returns "msg: err" for propagation.
func (l *Logger) Error(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)
	l.entry.WithError(err).Error(l.tag + " " + msg)
	return wrapped
}

// SetLevel adjusts the global log level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
