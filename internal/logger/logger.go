// Package logger builds the process-wide structured logger. Grounded on the
// teacher's pkg/infra/logger/logger.go (logrus, JSON formatter, LOG_LEVEL
// env switch), adapted from TrustGate's file-backed async writer to a plain
// stdout writer: this service is a long-lived stream processor run under a
// container supervisor, where file rotation is the platform's job, not
// this binary's.
package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger writing newline-delimited JSON to stdout. The
// level comes from the config-resolved LOG_LEVEL value so callers don't
// read the environment a second time.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	log.SetLevel(parseLevel(level))
	return log
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
