package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New creates the application logger. An unknown level is reported and replaced by info.
func New(levelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)
	if out != nil {
		log.SetOutput(out)
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Log level set to: %s", level.String())
	}
	return log
}

// Discard returns an entry that drops everything; used by tests and library callers without logging
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// BadgerAdapter implements badger.Logger on top of a logrus entry.
// Badger's own info output is demoted to debug so a build run stays quiet.
type BadgerAdapter struct {
	*logrus.Entry
}

// NewBadgerAdapter creates a new adapter
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry}
}

func (l *BadgerAdapter) Errorf(f string, v ...interface{})   { l.Entry.Errorf(f, v...) }
func (l *BadgerAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }
func (l *BadgerAdapter) Infof(f string, v ...interface{})    { l.Entry.Debugf(f, v...) }
func (l *BadgerAdapter) Debugf(f string, v ...interface{})   { l.Entry.Tracef(f, v...) }
