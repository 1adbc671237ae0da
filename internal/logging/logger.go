package logging

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger.
// In production (ENVIRONMENT=production) it emits JSON for log aggregation,
// otherwise the human-readable text formatter.
func Init(environment, level string) {
	Configure(logrus.StandardLogger(), os.Stdout, environment, level)
}

// Configure applies the formatter and level to an arbitrary logger.
func Configure(logger *logrus.Logger, out io.Writer, environment, level string) {
	logger.SetOutput(out)
	if strings.EqualFold(environment, "production") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// WithRun returns an entry carrying the run context.
// Use this for all logging within a pipeline run.
func WithRun(runID, userKey string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"run_id":  runID,
		"user_id": userKey,
	})
}

// WithPhase scopes an entry to one pipeline phase.
func WithPhase(entry *logrus.Entry, phase string) *logrus.Entry {
	return entry.WithField("phase", phase)
}

// WithComponent scopes an entry to a named component (collector, engine, store).
func WithComponent(entry *logrus.Entry, component string) *logrus.Entry {
	return entry.WithField("component", component)
}

// Discard returns an entry that drops everything. Handy in tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// Truncate shortens s to at most n runes for log output.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "...(truncated)"
}
