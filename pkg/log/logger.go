// Package log holds logrus construction helpers shared by the CLI and the MCP server.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Setup creates a logrus.Logger writing text with full timestamps to out.
// An unparsable level falls back to info and is reported through the returned logger.
func Setup(levelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
		return log
	}
	log.SetLevel(level)
	return log
}

// Component returns an entry tagged with the component name used in every log line of that package
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Discard returns an entry that drops everything, for callers that do not want crawl logs
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
