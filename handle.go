package flashops

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Handle is one bidirectional endpoint bound to a named port. It may be
// closed and reopened (at another rate) any number of times; only the
// component the Arbiter has granted ownership to may do so.
type Handle struct {
	name        string
	open        OpenFunc
	readTimeout time.Duration

	isOpen atomic.Bool

	mu   sync.Mutex
	port Port
	baud int
}

// NewHandle returns a closed handle for the named port.
func NewHandle(name string, open OpenFunc, readTimeout time.Duration) *Handle {
	if open == nil {
		open = BugstOpen
	}
	return &Handle{name: name, open: open, readTimeout: readTimeout}
}

// Name returns the device-port reference.
func (h *Handle) Name() string { return h.name }

// IsOpen reports whether the handle currently holds an open port.
func (h *Handle) IsOpen() bool { return h.isOpen.Load() }

// Baud returns the rate the handle was last opened at, or 0.
func (h *Handle) Baud() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.baud
}

// Open opens the port at baud. Failures are returned as *OpenError and leave
// the handle closed.
func (h *Handle) Open(baud int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.port != nil {
		return fmt.Errorf("%s already open at %d baud", h.name, h.baud)
	}

	p, err := h.open(PortConfig{Name: h.name, Baud: baud, ReadTimeout: h.readTimeout})
	if err != nil {
		return &OpenError{Port: h.name, Baud: baud, Err: err}
	}

	h.port = p
	h.baud = baud
	h.isOpen.Store(true)
	return nil
}

// Close closes the port. Closing a closed handle is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.port == nil {
		return nil
	}

	err := h.port.Close()
	h.port = nil
	h.isOpen.Store(false)
	if err != nil {
		return fmt.Errorf("closing %s: %w", h.name, err)
	}
	return nil
}

func (h *Handle) current() (Port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.port == nil {
		return nil, ErrHandleClosed
	}
	return h.port, nil
}

// Read reads from the open port. The handle lock is not held while the read
// blocks.
func (h *Handle) Read(b []byte) (int, error) {
	p, err := h.current()
	if err != nil {
		return 0, err
	}
	return p.Read(b)
}

// Write writes to the open port.
func (h *Handle) Write(b []byte) (int, error) {
	p, err := h.current()
	if err != nil {
		return 0, err
	}
	return p.Write(b)
}

// IsOpenFailure reports whether err came from opening a port.
func IsOpenFailure(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}
