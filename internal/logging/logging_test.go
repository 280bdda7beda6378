package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/nac-producer/internal/config"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		env       map[string]string
		wantLevel logrus.Level
		wantDebug bool
		wantErr   bool
	}{
		{name: "defaults", cfg: config.LoggingConfig{}, wantLevel: logrus.InfoLevel},
		{name: "configured level", cfg: config.LoggingConfig{Level: "warn", Format: "text"}, wantLevel: logrus.WarnLevel},
		{name: "configured debug", cfg: config.LoggingConfig{Level: "debug"}, wantLevel: logrus.DebugLevel, wantDebug: true},
		{name: "DEBUG overrides", cfg: config.LoggingConfig{Level: "error"}, env: map[string]string{"DEBUG": "true"},
			wantLevel: logrus.DebugLevel, wantDebug: true},
		{name: "LOG_LEVEL overrides", cfg: config.LoggingConfig{Level: "info"}, env: map[string]string{"LOG_LEVEL": "error"},
			wantLevel: logrus.ErrorLevel},
		{name: "DEBUG false is ignored", cfg: config.LoggingConfig{Level: "warn"}, env: map[string]string{"DEBUG": "false"},
			wantLevel: logrus.WarnLevel},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: config.LoggingConfig{Format: "xml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.cfg, &bytes.Buffer{}, env(tt.env))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
			assert.Equal(t, tt.wantDebug, DebugEnabled())
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf, env(nil))
	require.NoError(t, err)

	logger.WithField("content_name", "/alice/photo1").Info("Produced")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Produced", entry["msg"])
	assert.Equal(t, "/alice/photo1", entry["content_name"])
}

func TestSetLevel(t *testing.T) {
	t.Setenv("DEBUG", "")
	t.Setenv("LOG_LEVEL", "")

	logger, err := newLogger(config.LoggingConfig{Level: "info"}, &bytes.Buffer{}, env(nil))
	require.NoError(t, err)

	require.NoError(t, SetLevel(logger, "debug"))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.True(t, DebugEnabled())

	assert.Error(t, SetLevel(logger, "nope"))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	t.Setenv("LOG_LEVEL", "error")
	require.NoError(t, SetLevel(logger, "info"))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel(), "environment override wins over reloads")
}
