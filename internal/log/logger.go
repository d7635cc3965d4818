// Package log provides the leveled structured logger used across the stack.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

type logrusAdapter struct {
	entry *logrus.Entry
}

// New returns a Logger writing to stdout and, if enabled, to a rotated file.
// The returned closer releases the file.
func New(cfg Config) (Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	out := NewMultiWriter().Add(os.Stdout)
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, nil, fmt.Errorf("file output requires 'path' field")
		}
		out.AddFileAppender(cfg.File)
	}
	l, err := NewWithWriter(out, level, cfg)
	if err != nil {
		return nil, nil, err
	}
	return l, out, nil
}

// NewWithWriter returns a Logger writing entries at or above level to w.
func NewWithWriter(w io.Writer, level logrus.Level, cfg Config) (Logger, error) {
	l := logrus.New()
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "pattern":
		f := &formatter{pattern: cfg.Pattern, time: cfg.Time}
		if f.pattern == "" {
			f.pattern = DefaultPattern
		}
		if f.time == "" {
			f.time = DefaultTime
		}
		l.SetFormatter(f)
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be text, json or pattern)", cfg.Format)
	}
	l.SetLevel(level)
	l.SetOutput(w)
	return &logrusAdapter{entry: logrus.NewEntry(l)}, nil
}

// Discard returns a Logger that drops every entry.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func parseLevel(levelStr string) (logrus.Level, error) {
	if levelStr == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return logrus.InfoLevel, err
	}
	return level, nil
}

// ValidLevel reports whether s names a log level.
func ValidLevel(s string) bool {
	_, err := parseLevel(s)
	return err == nil
}

func (l *logrusAdapter) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusAdapter) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusAdapter) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusAdapter) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithField(field, value)}
}
func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return &logrusAdapter{entry: l.entry.WithFields(fields)}
}
func (l *logrusAdapter) WithError(err error) Logger {
	return &logrusAdapter{entry: l.entry.WithError(err)}
}

func (l *logrusAdapter) IsDebugEnabled() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}
