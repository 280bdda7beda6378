// Package logging builds the service logger and tracks whether debug
// output is on. DEBUG=true or LOG_LEVEL in the environment take
// precedence over the configured level.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/nac-producer/internal/config"
)

var (
	debugEnabled bool
	mu           sync.RWMutex
)

// DebugEnabled returns whether debug logging is enabled.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugEnabled
}

func setDebug(value bool) {
	mu.Lock()
	defer mu.Unlock()
	debugEnabled = value
}

// envLevel returns the level forced by the environment, if any.
func envLevel(lookup func(string) (string, bool)) (string, bool) {
	if v, ok := lookup("DEBUG"); ok && v == "true" {
		return "debug", true
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		return v, true
	}
	return "", false
}

// New creates a logger writing to out with the configured format and level.
func New(cfg config.LoggingConfig, out io.Writer) (*logrus.Logger, error) {
	return newLogger(cfg, out, os.LookupEnv)
}

func newLogger(cfg config.LoggingConfig, out io.Writer, lookup func(string) (string, bool)) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	level := cfg.Level
	if forced, ok := envLevel(lookup); ok {
		level = forced
	}
	if err := setLevel(logger, level); err != nil {
		return nil, err
	}
	return logger, nil
}

// SetLevel changes the level of a running logger, for config reloads.
// An environment override still wins.
func SetLevel(logger *logrus.Logger, level string) error {
	if _, ok := envLevel(os.LookupEnv); ok {
		return nil
	}
	return setLevel(logger, level)
}

func setLevel(logger *logrus.Logger, level string) error {
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(parsed)
	setDebug(parsed >= logrus.DebugLevel)
	return nil
}
