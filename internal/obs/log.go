package obs

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a convenience alias so callers don't import logrus directly.
type Fields = logrus.Fields

// Log wraps a *logrus.Logger, giving every call site a small chainable
// surface (WithComponent, WithFields, WithError) instead of reaching into
// logrus directly.
type Log struct {
	*logrus.Logger
}

// Entry wraps a *logrus.Entry with the same chainable helpers as Log.
type Entry struct {
	*logrus.Entry
}

var (
	defaultLogger *Log
	defaultOnce   sync.Once
)

// GetLogger returns the process-wide singleton logger, configuring it with
// sane defaults on first use. Configure should be called once at startup
// before any other component calls GetLogger.
func GetLogger() *Log {
	defaultOnce.Do(func() {
		defaultLogger = newLogger()
	})
	return defaultLogger
}

func newLogger() *Log {
	l := logrus.New()
	l.SetReportCaller(true)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	l.AddHook(&callerHook{skipSubstrings: []string{"sirupsen/logrus", "oisentry/internal/obs"}})
	l.SetOutput(os.Stdout)
	return &Log{Logger: l}
}

// Configure applies level/format/output settings. format is "json" or
// "text"; output is "stdout", "stderr", or a file path (rotated through
// lumberjack when maxAgeDays > 0).
func (l *Log) Configure(level, format, output string, maxAgeDays int) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	var w io.Writer
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		if maxAgeDays > 0 {
			w = &lumberjack.Logger{
				Filename: output,
				MaxAge:   maxAgeDays,
				MaxSize:  100,
				Compress: true,
			}
		} else {
			f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				l.WithError(err).Warn("failed to open log output file; falling back to stdout")
				w = os.Stdout
			} else {
				w = f
			}
		}
	}
	l.SetOutput(w)
}

// WithComponent tags every field on the returned Entry with a "component".
func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

// WithFields returns an Entry carrying the given structured fields.
func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(fields)}
}

// WithError returns an Entry carrying the given error.
func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

// WithField returns an Entry carrying a single structured field.
func (l *Log) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: l.Logger.WithField(key, value)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(fields)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}
