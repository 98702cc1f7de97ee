// Package loader implements flashops.Loader by driving the esptool
// command-line programmer. The serial port is closed before esptool runs
// and left closed afterwards; the session reopens it when it resumes
// monitoring.
package loader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.tigermatt.uk/flashops"
	"golang.org/x/sync/errgroup"
)

// Esptool runs esptool for each control operation.
type Esptool struct {
	// Path is the esptool executable. Defaults to "esptool.py".
	Path string

	// Chip is passed as --chip. Defaults to "auto".
	Chip string

	// ExtraArgs are inserted before the command, e.g. "--before", "default_reset".
	ExtraArgs []string

	// Output, if set, receives every line esptool prints.
	Output func(line string)

	Logger *slog.Logger
}

var _ flashops.Loader = (*Esptool)(nil)

// Identify runs flash_id and parses the chip description it prints.
func (e *Esptool) Identify(ctx context.Context, h *flashops.Handle) (*flashops.ChipInfo, error) {
	out, err := e.run(ctx, h, "identify", nil, "flash_id")
	if err != nil {
		return nil, err
	}

	info, ok := parseChipInfo(out)
	if !ok {
		return nil, &flashops.Failure{
			Kind: flashops.ProtocolMismatch,
			Op:   "identify",
			Err:  errors.New("no chip description in esptool output"),
		}
	}
	return info, nil
}

// ReadFlash reads length bytes at offset via a temporary file.
func (e *Esptool) ReadFlash(ctx context.Context, h *flashops.Handle, offset, length uint32) ([]byte, error) {
	dir, err := os.MkdirTemp("", "flashops-read")
	if err != nil {
		return nil, &flashops.Failure{Kind: flashops.TransportError, Op: "read-flash", Err: err}
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "flash.bin")
	if _, err := e.run(ctx, h, "read-flash", nil, "read_flash", hex(offset), hex(length), path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &flashops.Failure{Kind: flashops.TransportError, Op: "read-flash", Err: err}
	}
	return data, nil
}

// EraseFlash runs erase_flash.
func (e *Esptool) EraseFlash(ctx context.Context, h *flashops.Handle) error {
	_, err := e.run(ctx, h, "erase", nil, "erase_flash")
	return err
}

// WriteFlash writes image at offset, translating esptool's percentage
// output into byte progress.
func (e *Esptool) WriteFlash(ctx context.Context, h *flashops.Handle, image []byte, offset uint32, progress flashops.ProgressFunc) error {
	dir, err := os.MkdirTemp("", "flashops-write")
	if err != nil {
		return &flashops.Failure{Kind: flashops.TransportError, Op: "flash", Err: err}
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "image.bin")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return &flashops.Failure{Kind: flashops.TransportError, Op: "flash", Err: err}
	}

	total := len(image)
	onPct := func(pct float64) {
		if progress != nil {
			progress(int(float64(total)*pct/100), total)
		}
	}

	if _, err := e.run(ctx, h, "flash", onPct, "write_flash", hex(offset), path); err != nil {
		return err
	}

	if progress != nil {
		progress(total, total)
	}
	return nil
}

func hex(v uint32) string {
	return fmt.Sprintf("0x%X", v)
}

func (e *Esptool) args(h *flashops.Handle, baud int, cmd []string) []string {
	chip := e.Chip
	if chip == "" {
		chip = "auto"
	}

	argv := []string{"--chip", chip, "--port", h.Name()}
	if baud > 0 {
		argv = append(argv, "--baud", strconv.Itoa(baud))
	}
	argv = append(argv, e.ExtraArgs...)
	return append(argv, cmd...)
}

// run releases the port, runs esptool and returns its combined output.
func (e *Esptool) run(ctx context.Context, h *flashops.Handle, op string, onPct func(float64), cmd ...string) (string, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := e.Path
	if path == "" {
		path = "esptool.py"
	}

	baud := h.Baud()
	if err := h.Close(); err != nil {
		return "", &flashops.Failure{Kind: flashops.TransportError, Op: op, Err: err}
	}

	argv := e.args(h, baud, cmd)
	logger.Debug("running esptool", "path", path, "args", argv)

	pr, pw := io.Pipe()
	c := exec.CommandContext(ctx, path, argv...)
	c.Stdout = pw
	c.Stderr = pw

	if err := c.Start(); err != nil {
		pw.Close()
		return "", classify(ctx, op, "", err)
	}

	var out bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		err := c.Wait()
		pw.Close()
		return err
	})
	g.Go(func() error {
		s := bufio.NewScanner(pr)
		s.Split(scanLines)
		for s.Scan() {
			line := strings.TrimSpace(s.Text())
			if line == "" {
				continue
			}
			out.WriteString(line)
			out.WriteByte('\n')
			if e.Output != nil {
				e.Output(line)
			}
			if onPct != nil {
				if pct, ok := parseProgress(line); ok {
					onPct(pct)
				}
			}
		}
		// Keep draining so Wait can finish.
		_, _ = io.Copy(io.Discard, pr)
		return nil
	})

	if err := g.Wait(); err != nil {
		return out.String(), classify(ctx, op, out.String(), err)
	}
	return out.String(), nil
}

// scanLines splits on either \r or \n; esptool redraws progress with \r.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// classify maps an esptool failure onto a flashops.Failure.
func classify(ctx context.Context, op, out string, err error) *flashops.Failure {
	f := &flashops.Failure{Kind: flashops.TransportError, Op: op, Err: err}
	if last := lastLine(out); last != "" {
		f.Err = fmt.Errorf("%w: %s", err, last)
	}

	lower := strings.ToLower(out)
	switch {
	case ctx.Err() != nil:
		f.Kind = flashops.Aborted
		f.Err = ctx.Err()
	case errors.Is(err, exec.ErrNotFound):
		f.Kind = flashops.TransportError
	case strings.Contains(lower, "failed to connect"), strings.Contains(lower, "timed out"):
		f.Kind = flashops.DeviceTimeout
	case strings.Contains(lower, "wrong --chip"),
		strings.Contains(lower, "unexpected"),
		strings.Contains(lower, "invalid head of packet"):
		f.Kind = flashops.ProtocolMismatch
	}
	return f
}

func lastLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		return out[i+1:]
	}
	return out
}
