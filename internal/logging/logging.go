package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stderr at the given level name.
// Unknown levels fall back to info.
func New(level string, verbose bool) *logrus.Logger {
	return NewWithOutput(os.Stderr, level, verbose)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(w io.Writer, level string, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if verbose {
		lvl = logrus.DebugLevel
	}
	log.SetLevel(lvl)
	return log
}

// Discard returns a logger that drops everything. Used by tests and callers
// that don't care about crawl chatter.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
