package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/girable/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Link.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Link.IdleTimeout)
	assert.Equal(t, 3, cfg.Link.ConnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Link.ConnectTimeout)
	assert.False(t, cfg.Link.SkipPairing)
	assert.Equal(t, 100, cfg.Scan.EventBuffer)
	assert.Equal(t, "girable", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.MQTT.Enabled())
	assert.Empty(t, cfg.Devices)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: logrus.InfoLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

const sampleYAML = `
log_level: debug
cache_path: /var/lib/girable/state.db
devices:
  - address: aa:bb:cc:dd:ee:01
    name: Living room
    type: Shutter
  - address: AA:BB:CC:DD:EE:02
    name: Bathroom
    type: thermostat
  - address: AA:BB:CC:DD:EE:03
link:
  idle_timeout: 30s
  skip_pairing: true
scan:
  max_age: 2m
mqtt:
  broker: tcp://localhost:1883
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "/var/lib/girable/state.db", cfg.CachePath)

	require.Len(t, cfg.Devices, 3)
	assert.Equal(t, device.TypeShutter, cfg.Devices[0].Type, "type MUST be normalised")
	assert.Equal(t, device.TypeThermostat, cfg.Devices[1].Type)
	assert.Equal(t, device.TypeShutter, cfg.Devices[2].Type, "missing type MUST mean shutter")

	assert.Equal(t, 30*time.Second, cfg.Link.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.Link.WriteTimeout, "unset link options MUST keep defaults")
	assert.True(t, cfg.Link.SkipPairing)
	assert.Equal(t, 2*time.Minute, cfg.Scan.MaxAge)
	assert.Equal(t, 100, cfg.Scan.EventBuffer)
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, "girable", cfg.MQTT.ClientID)

	d, ok := cfg.Device("AA:BB:CC:DD:EE:01")
	assert.True(t, ok, "lookup MUST be case-insensitive")
	assert.Equal(t, "Living room", d.Name)
	_, ok = cfg.Device("00:00:00:00:00:00")
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown type", "devices:\n  - address: AA\n    type: lamp\n"},
		{"missing address", "devices:\n  - name: nowhere\n"},
		{"duplicate address", "devices:\n  - address: aa\n  - address: AA\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr *device.ValidationError
			assert.True(t, errors.As(err, &verr), "error MUST be a ValidationError, got %v", err)
		})
	}

	_, err := Parse([]byte("devices: [unterminated"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "girable.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Devices, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
