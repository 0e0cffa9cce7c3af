// Package logging provides the structured logger shared by every component.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so the rest of the codebase depends on a single
// narrow type instead of importing logrus directly everywhere.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls level and output format, sourced from environment
// variables at boot (see internal/config).
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New builds a Logger tagged with the given component name.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewDefault returns an info-level, text-formatted logger for the named
// component. Used by constructors that accept an optional *Logger.
func NewDefault(component string) *Logger {
	return New(component, Config{Level: "info", Format: "text"})
}

// WithField returns an entry tagged with the component name and one field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithField(key, value)
}

// WithFields returns an entry tagged with the component name and the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry tagged with the component name and an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithField("component", l.component).WithError(err)
}

// Entry returns a bare entry tagged only with the component name.
func (l *Logger) Entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}
