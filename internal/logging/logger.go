// Package logging provides structured logging for BizGenie.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a Level.
// Unknown strings yield INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a structured logger
type Logger struct {
	entry *logrus.Entry
}

var base = newBase(os.Stdout)

var defaultLogger = &Logger{entry: logrus.NewEntry(base)}

func newBase(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	return l
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	base.SetLevel(level.logrus())
}

// GetLevel returns the global log level
func GetLevel() Level {
	switch base.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return DEBUG
	case logrus.WarnLevel:
		return WARN
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return ERROR
	default:
		return INFO
	}
}

// SetOutput sets the output writer
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// SetJSON switches the formatter to JSON lines.
func SetJSON(enabled bool) {
	if enabled {
		base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
}

// Component returns a logger tagged with the component name.
func Component(name string) *Logger {
	return defaultLogger.WithField("component", name)
}

// WithFields returns a logger with multiple fields added
func WithFields(fields map[string]interface{}) *Logger {
	return defaultLogger.WithFields(fields)
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields adds multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError attaches an error under the standard "error" key.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if len(args) > 0 {
		l.entry.Logf(level.logrus(), msg, args...)
		return
	}
	l.entry.Log(level.logrus(), msg)
}

// Logger methods
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(ERROR, msg, args...) }
