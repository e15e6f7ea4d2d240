// Package logging builds the logrus logger used by refstore from its configuration.
//
// Example Usage:
//
//	logger, closeLog, err := logging.New(cfg.Logging)
//	if err != nil {
//		return err
//	}
//	defer closeLog()
//
//	store := storage.NewStoreWithOptions(storage.StoreOptions{Logger: logger})
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/orneryd/refstore/pkg/config"
)

var errLogLevelNotRecognized = errors.New("log level not recognized")

// New creates a logger writing to cfg.Output. The returned close function
// releases the output file, if one was opened, and is safe to call when the
// output is stdout or stderr.
func New(cfg config.LoggingConfig) (*logrus.Logger, func() error, error) {
	level, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	out, closeFn, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(formatter(cfg.Format))
	return logger, closeFn, nil
}

// NewWriter creates a logger for cfg writing to w, ignoring cfg.Output.
func NewWriter(cfg config.LoggingConfig, w io.Writer) (*logrus.Logger, error) {
	level, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(level)
	logger.SetFormatter(formatter(cfg.Format))
	return logger, nil
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
}

func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(output) {
	case "", "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return f, f.Close, nil
}

// levelFromString converts a case insensitive level name to a logrus level.
func levelFromString(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "panic":
		return logrus.PanicLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "trace":
		return logrus.TraceLevel, nil
	default:
		return 0, fmt.Errorf("%w: %q", errLogLevelNotRecognized, level)
	}
}
