// Package logging gives every component in the participant an explicit
// logger handle at construction. There is no package-level logger and
// no global registry: each constructor takes a Logger and stores it.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the small surface every core component depends on. New and
// Discard return it as a thin wrapper around a *logrus.Entry.
type Logger interface {
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
}

type entry struct {
	*logrus.Entry
}

func (e entry) WithField(key string, value interface{}) Logger {
	return entry{e.Entry.WithField(key, value)}
}

// Level is the configurable verbosity for a participant's sinks.
// Critical maps to logrus.FatalLevel and Off maps to logrus.PanicLevel,
// which suppresses every method of Logger.
type Level string

const (
	LevelTrace    Level = "Trace"
	LevelDebug    Level = "Debug"
	LevelInfo     Level = "Info"
	LevelWarn     Level = "Warn"
	LevelError    Level = "Error"
	LevelCritical Level = "Critical"
	LevelOff      Level = "Off"
)

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	case LevelCritical:
		return logrus.FatalLevel
	case LevelOff:
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// New builds a Logger for a single participant, tagging every line
// with the participant name.
func New(participantName string, level Level, out io.Writer) Logger {
	if out == nil {
		out = os.Stderr
	}
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level.logrusLevel())
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return entry{base.WithField("participant", participantName)}
}

// Discard returns a Logger that drops everything, for tests that do
// not want log noise.
func Discard() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return entry{logrus.NewEntry(base)}
}
