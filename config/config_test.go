package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otis-Lab-MUSC/reacher/errors"
	"github.com/Otis-Lab-MUSC/reacher/monitor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reacher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "box-1", cfg.Box.Name)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, "none", cfg.Limit.Kind)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
box:
  name: box-7
serial:
  port: /dev/ttyACM0
limit:
  kind: both
  time_limit_seconds: 3600
  infusion_limit: 30
  stop_delay_seconds: 10
output:
  filename: rat12
  destination: /data/cohort4
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "box-7", cfg.Box.Name)
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, "rat12", cfg.Output.Filename)
	assert.Equal(t, "debug", cfg.Logging.Level)

	policy, err := cfg.LimitPolicy()
	require.NoError(t, err)
	assert.Equal(t, monitor.KindBoth, policy.Kind)
	assert.Equal(t, time.Hour, policy.TimeLimit)
	assert.Equal(t, 30, policy.InfusionLimit)
	assert.Equal(t, 10*time.Second, policy.StopDelay)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REACHER_BOX_NAME", "box-env")
	t.Setenv("REACHER_SERIAL_PORT", "/dev/ttyUSB3")
	t.Setenv("REACHER_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "box-env", cfg.Box.Name)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/reacher.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty box name", "box:\n  name: \"\"\n"},
		{"bad baud", "serial:\n  baud_rate: -9600\n"},
		{"unknown limit kind", "limit:\n  kind: sometimes\n"},
		{"limit kind without value", "limit:\n  kind: time\n"},
		{"bad log level", "logging:\n  level: chatty\n"},
		{"bad log format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
