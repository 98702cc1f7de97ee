package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError listing every problem in cfg.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if cfg.Serial.Baud <= 0 {
		ve.Add("serial.baud must be positive, got %d", cfg.Serial.Baud)
	}
	for _, r := range cfg.Serial.Candidates {
		if r <= 0 {
			ve.Add("serial.candidates contains invalid rate %d", r)
		}
	}
	switch cfg.Serial.Driver {
	case "", "bugst", "tarm":
	default:
		ve.Add("serial.driver %q is not one of bugst, tarm", cfg.Serial.Driver)
	}
	if cfg.Serial.ReadTimeout < 0 {
		ve.Add("serial.read_timeout must not be negative")
	}

	if cfg.Flash.PartitionLength == 0 {
		ve.Add("flash.partition_length must be positive")
	}
	if cfg.Flash.PartitionLength%32 != 0 {
		ve.Add("flash.partition_length must be a multiple of 32, got %d", cfg.Flash.PartitionLength)
	}

	if cfg.Monitor.Capacity < 0 {
		ve.Add("monitor.capacity must not be negative")
	}

	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}
