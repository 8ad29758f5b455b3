package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Log is usable before Init so packages can log from tests without setup.
var Log = newLogger(os.Stdout, logrus.InfoLevel)

func Init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log = newLogger(os.Stdout, logLevel)
}

// Capture redirects the global logger to w at debug level and returns a
// function restoring the previous logger.
func Capture(w io.Writer) func() {
	prev := Log
	Log = newLogger(w, logrus.DebugLevel)
	return func() { Log = prev }
}

func newLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
	})
	l.SetLevel(level)
	return l
}
