// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 ZIP Robotics

package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, ":8081", cfg.Server.WSAddr)
	assert.Equal(t, 20, cfg.Safety.StreamRateMax)
	assert.Equal(t, 150*time.Millisecond, cfg.Safety.TTLMin)
	assert.Equal(t, 300*time.Millisecond, cfg.Safety.TTLMax)
	assert.False(t, cfg.Serial.Loopback)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	yaml := `
serial:
  port: /dev/ttyACM3
  baud: 57600
safety:
  stream_rate_max: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM3", cfg.Serial.Port)
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.Equal(t, 10, cfg.Safety.StreamRateMax)
	// Untouched sections keep defaults.
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baud: 57600\n"), 0o644))

	t.Setenv("ZIP_BAUD", "230400")
	t.Setenv("ZIP_LOOPBACK", "true")
	t.Setenv("ZIP_CMD_TIMEOUT_MS", "250")

	cfg, err := Load(path, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 230400, cfg.Serial.Baud)
	assert.True(t, cfg.Serial.Loopback)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.CommandTimeout)
}

func TestLoad_OutOfBoundsFallsBack(t *testing.T) {
	t.Setenv("ZIP_STREAM_RATE_MAX", "500") // above the documented 1..50 bound
	t.Setenv("ZIP_CMD_RATE", "0")          // below the documented 1..100 bound

	cfg, err := Load("", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, Default().Safety.StreamRateMax, cfg.Safety.StreamRateMax)
	assert.Equal(t, Default().Safety.CommandRate, cfg.Safety.CommandRate)
}

func TestLoad_TTLInversionFallsBack(t *testing.T) {
	t.Setenv("ZIP_TTL_MIN", "800")
	t.Setenv("ZIP_TTL_MAX", "200")

	cfg, err := Load("", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, Default().Safety.TTLMin, cfg.Safety.TTLMin)
	assert.Equal(t, Default().Safety.TTLMax, cfg.Safety.TTLMax)
}

func TestLoad_BadEnvIgnored(t *testing.T) {
	t.Setenv("ZIP_BAUD", "fast")
	t.Setenv("ZIP_LOOPBACK", "maybe")

	cfg, err := Load("", quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.False(t, cfg.Serial.Loopback)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/bridge.yaml", quietLogger())
	assert.Error(t, err)
}
