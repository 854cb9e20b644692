package core

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// OpenLogOutput returns the destination configured for operator output: the
// log file if one is set, stdout otherwise. The returned closer is a no-op for stdout.
func OpenLogOutput(cfg *Config) (io.Writer, func() error, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, func() error { return nil }, nil
	}

	f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.LogFilePath, err)
	}
	return f, f.Close, nil
}

// NewLogger returns a logger intended to be used for general application logs.
// Every entry is written to out with a single Write call.
func NewLogger(cfg *Config, out io.Writer) (*logrus.Logger, error) {
	logLvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	return &logrus.Logger{
		Out: out,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		},
		Hooks: make(logrus.LevelHooks),
		Level: logLvl,
	}, nil
}
