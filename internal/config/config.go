// Package config loads flashops settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Flash   FlashConfig   `yaml:"flash"`
	Monitor MonitorConfig `yaml:"monitor"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// SerialConfig selects the port and how it is opened.
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	AutoDetect  bool          `yaml:"auto_detect"`
	Candidates  []int         `yaml:"candidates,omitempty"`
	Driver      string        `yaml:"driver"` // "bugst" or "tarm"
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// FlashConfig configures the esptool collaborator and flash layout.
type FlashConfig struct {
	Esptool         string   `yaml:"esptool"`
	Chip            string   `yaml:"chip"`
	ExtraArgs       []string `yaml:"extra_args,omitempty"`
	PartitionOffset uint32   `yaml:"partition_offset"`
	PartitionLength uint32   `yaml:"partition_length"`
	AppOffset       uint32   `yaml:"app_offset"`
}

// MonitorConfig sizes the log stream.
type MonitorConfig struct {
	Capacity int `yaml:"capacity"`
}

// LoggerConfig configures operator logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        115200,
			AutoDetect:  true,
			Driver:      "bugst",
			ReadTimeout: 100 * time.Millisecond,
		},
		Flash: FlashConfig{
			Esptool:         "esptool.py",
			Chip:            "auto",
			PartitionOffset: 0x8000,
			PartitionLength: 0xC00,
			AppOffset:       0x10000,
		},
		Monitor: MonitorConfig{Capacity: 200},
		Logger:  LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies FLASHOPS_* variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLASHOPS_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("FLASHOPS_SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serial.Baud = n
		}
	}
	if v := os.Getenv("FLASHOPS_SERIAL_AUTO_DETECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Serial.AutoDetect = b
		}
	}
	if v := os.Getenv("FLASHOPS_SERIAL_DRIVER"); v != "" {
		cfg.Serial.Driver = v
	}
	if v := os.Getenv("FLASHOPS_ESPTOOL"); v != "" {
		cfg.Flash.Esptool = v
	}
	if v := os.Getenv("FLASHOPS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}
