package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the service logger. format is "json" or "text";
// an unknown level falls back to info.
func NewLogger(service, level, format string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger.WithField("service", service)
}
