package dbbadger

import (
	log "github.com/sirupsen/logrus"
)

// Logger adapts logrus to the badger.Logger interface. Badger is chatty, so
// its info and debug logs are shifted one level down.
type Logger struct {
	entry *log.Entry
}

func NewLogger(component string) *Logger {
	return &Logger{log.WithField("db", component)}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Warningf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
