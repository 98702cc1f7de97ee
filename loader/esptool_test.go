package loader

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.tigermatt.uk/flashops"
)

// fakeEsptool mimics enough of esptool for each command the loader runs.
const fakeEsptool = `#!/bin/sh
for last; do :; done
case "$*" in
*flash_id*)
	cat <<'OUT'
Chip is ESP32-D0WD-V3 (revision v3.1)
Features: WiFi, BT, Dual Core
Crystal is 40MHz
MAC: 24:0a:c4:12:34:56
Detected flash size: 4MB
OUT
	;;
*read_flash*)
	printf 'partition-table' > "$last"
	echo "Read 3072 bytes at 0x00008000"
	;;
*erase_flash*)
	echo "A fatal error occurred: Failed to connect to ESP32: Timed out waiting for packet header" >&2
	exit 2
	;;
*write_flash*)
	printf 'Writing at 0x00010000... (50 %%)\r'
	printf 'Writing at 0x00010800... (100 %%)\n'
	echo "Hash of data verified."
	;;
esac
`

type nopPort struct{}

func (nopPort) Read([]byte) (int, error)    { return 0, nil }
func (nopPort) Write(b []byte) (int, error) { return len(b), nil }
func (nopPort) Close() error                { return nil }

func newFakeEsptool(t *testing.T) (*Esptool, *flashops.Handle, func() []string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "esptool")
	require.NoError(t, os.WriteFile(path, []byte(fakeEsptool), 0o755))

	var mu sync.Mutex
	var lines []string
	e := &Esptool{
		Path: path,
		Output: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	}

	h := flashops.NewHandle("/dev/fake", func(flashops.PortConfig) (flashops.Port, error) {
		return nopPort{}, nil
	}, 0)
	require.NoError(t, h.Open(115200))

	return e, h, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

func TestEsptoolIdentify(t *testing.T) {
	e, h, output := newFakeEsptool(t)

	chip, err := e.Identify(context.Background(), h)
	require.NoError(t, err)

	assert.Equal(t, "ESP32-D0WD-V3", chip.Name)
	assert.Equal(t, "24:0A:C4:12:34:56", chip.MAC)
	assert.Equal(t, "4 MB", chip.ReadableFlashSize())
	assert.False(t, h.IsOpen())
	assert.Contains(t, output(), "Crystal is 40MHz")
}

func TestEsptoolReadFlash(t *testing.T) {
	e, h, _ := newFakeEsptool(t)

	data, err := e.ReadFlash(context.Background(), h, 0x8000, 0xC00)
	require.NoError(t, err)
	assert.Equal(t, "partition-table", string(data))
}

func TestEsptoolEraseFailure(t *testing.T) {
	e, h, output := newFakeEsptool(t)

	err := e.EraseFlash(context.Background(), h)

	var f *flashops.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, flashops.DeviceTimeout, f.Kind)
	assert.Equal(t, "erase", f.Op)
	assert.NotEmpty(t, output())
}

func TestEsptoolWriteFlash(t *testing.T) {
	e, h, _ := newFakeEsptool(t)

	var written []int
	err := e.WriteFlash(context.Background(), h, make([]byte, 1000), 0x10000, func(n, total int) {
		assert.Equal(t, 1000, total)
		written = append(written, n)
	})
	require.NoError(t, err)

	assert.Equal(t, []int{500, 1000, 1000}, written)
}

func TestEsptoolMissing(t *testing.T) {
	e := &Esptool{Path: filepath.Join(t.TempDir(), "no-such-esptool")}
	h := flashops.NewHandle("/dev/fake", nil, 0)

	err := e.EraseFlash(context.Background(), h)

	var f *flashops.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, flashops.TransportError, f.Kind)
}
