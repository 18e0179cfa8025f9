package common

import (
	"fmt"
	"io"

	"github.com/samber/do/v2"
	"github.com/sirupsen/logrus"
)

func NewLogger(i do.Injector) (*logrus.Logger, error) {
	level := do.MustInvokeNamed[string](i, "log-level")
	jsonOutput := do.MustInvokeNamed[bool](i, "log-json")

	return ConfigureLogger(level, jsonOutput)
}

func ConfigureLogger(level string, jsonOutput bool) (*logrus.Logger, error) {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	logger.SetLevel(parsed)

	if jsonOutput {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}

// DiscardLogger is for tests.
func DiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}
