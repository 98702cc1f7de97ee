package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.True(t, cfg.Serial.AutoDetect)
	assert.Equal(t, uint32(0x8000), cfg.Flash.PartitionOffset)
	assert.Equal(t, uint32(0xC00), cfg.Flash.PartitionLength)
	assert.Equal(t, uint32(0x10000), cfg.Flash.AppOffset)
	assert.Equal(t, 200, cfg.Monitor.Capacity)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  port: /dev/ttyACM0
  baud: 460800
  auto_detect: false
  candidates: [921600, 115200]
  driver: tarm
  read_timeout: 250ms
flash:
  esptool: /opt/esptool/esptool
  chip: esp32s3
  extra_args: ["--before", "default_reset"]
  app_offset: 0x20000
logger:
  level: debug
  format: json
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 460800, cfg.Serial.Baud)
	assert.False(t, cfg.Serial.AutoDetect)
	assert.Equal(t, []int{921600, 115200}, cfg.Serial.Candidates)
	assert.Equal(t, "tarm", cfg.Serial.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Serial.ReadTimeout)
	assert.Equal(t, "esp32s3", cfg.Flash.Chip)
	assert.Equal(t, []string{"--before", "default_reset"}, cfg.Flash.ExtraArgs)
	assert.Equal(t, uint32(0x20000), cfg.Flash.AppOffset)
	assert.Equal(t, uint32(0x8000), cfg.Flash.PartitionOffset)
	assert.Equal(t, "json", cfg.Logger.Format)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial: [oops"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLASHOPS_SERIAL_PORT", "/dev/ttyS1")
	t.Setenv("FLASHOPS_SERIAL_BAUD", "921600")
	t.Setenv("FLASHOPS_SERIAL_AUTO_DETECT", "false")
	t.Setenv("FLASHOPS_SERIAL_DRIVER", "tarm")
	t.Setenv("FLASHOPS_ESPTOOL", "esptool")
	t.Setenv("FLASHOPS_LOGGER_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS1", cfg.Serial.Port)
	assert.Equal(t, 921600, cfg.Serial.Baud)
	assert.False(t, cfg.Serial.AutoDetect)
	assert.Equal(t, "tarm", cfg.Serial.Driver)
	assert.Equal(t, "esptool", cfg.Flash.Esptool)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestEnvOverridesIgnoresMalformed(t *testing.T) {
	t.Setenv("FLASHOPS_SERIAL_BAUD", "fast")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 115200, cfg.Serial.Baud)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Serial.Baud = 0
	cfg.Serial.Candidates = []int{115200, -1}
	cfg.Serial.Driver = "ftdi"
	cfg.Flash.PartitionLength = 100
	cfg.Logger.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 5)
	assert.Contains(t, err.Error(), "serial.driver")
}
