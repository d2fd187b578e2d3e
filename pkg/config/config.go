package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/girable/internal/device"
	"github.com/srg/girable/internal/link"
	"github.com/srg/girable/internal/mqtt"
	"github.com/srg/girable/scanner"
)

// DeviceConfig is one configured peripheral.
type DeviceConfig struct {
	Address string      `yaml:"address"`
	Name    string      `yaml:"name"`
	Type    device.Type `yaml:"type"`
}

// Config holds application configuration
type Config struct {
	LogLevel  logrus.Level    `yaml:"log_level"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Link      link.Options    `yaml:"link"`
	Scan      scanner.Options `yaml:"scan"`
	MQTT      mqtt.Config     `yaml:"mqtt"`
	CachePath string          `yaml:"cache_path"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: logrus.InfoLevel,
		Link:     link.DefaultOptions(),
	}
	defaults.SetDefaults(&cfg.Scan)
	defaults.SetDefaults(&cfg.MQTT)
	return cfg
}

// Load reads a YAML configuration file on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalises device entries and rejects unknown types, missing
// addresses and duplicates.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Address == "" {
			return &device.ValidationError{Field: fmt.Sprintf("devices[%d].address", i), Value: "", Reason: "is required"}
		}
		t, err := device.ParseType(string(d.Type))
		if err != nil {
			return fmt.Errorf("device %s: %w", d.Address, err)
		}
		d.Type = t

		key := device.NormalizeAddress(d.Address)
		if seen[key] {
			return &device.ValidationError{Field: fmt.Sprintf("devices[%d].address", i), Value: d.Address, Reason: "is configured twice"}
		}
		seen[key] = true
	}
	return nil
}

// Device returns the configured entry for address.
func (c *Config) Device(address string) (DeviceConfig, bool) {
	key := device.NormalizeAddress(address)
	for _, d := range c.Devices {
		if device.NormalizeAddress(d.Address) == key {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
