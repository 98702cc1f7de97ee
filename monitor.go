package flashops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Monitor pulls chunks off Source until cancelled or the stream ends.
// Cancellation is observed between reads, so Source must return
// periodically (see DefaultReadTimeout).
type Monitor struct {
	Source    io.Reader
	OnReceive func([]byte)
}

// Consume returns nil on cancellation or end of stream.
func (m *Monitor) Consume(ctx context.Context) error {
	bs := make([]byte, 1024)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := m.Source.Read(bs)
		if n > 0 {
			m.OnReceive(bs[:n])
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading from serial port: %w", err)
		}
	}
}

// deviceText renders a chunk of device output as a log message.
func deviceText(bs []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(bs), "�"))
}
