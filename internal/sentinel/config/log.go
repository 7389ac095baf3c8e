package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConfigureLogger applies the settings from the configuration file to the
// standard logger, setting the output format and level the way
// internal/praefect/config.ConfigureLogger does for the teacher.
func (c Config) ConfigureLogger() *logrus.Entry {
	logger := logrus.StandardLogger()
	logger.SetOutput(os.Stdout)

	switch c.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logrus.NewEntry(logger)
}
