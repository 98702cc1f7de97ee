package flashops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

var errPortClosed = errors.New("port closed")

// fakePort serves scripted chunks, then either idles like a read timeout or
// reports end of stream.
type fakePort struct {
	baud int

	mu      sync.Mutex
	chunks  [][]byte
	eof     bool
	closed  bool
	written bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if len(p.chunks) > 0 {
		n := copy(b, p.chunks[0])
		p.chunks = p.chunks[1:]
		p.mu.Unlock()
		return n, nil
	}
	eof := p.eof
	p.mu.Unlock()

	if eof {
		return 0, io.EOF
	}
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) push(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, []byte(chunk))
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *fakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeOpener records open attempts. Rates in fail are refused; once
// failAfter successful opens have happened, every further open is refused.
type fakeOpener struct {
	fail      map[int]bool
	failAfter int
	eof       bool

	mu       sync.Mutex
	attempts []int
	ports    []*fakePort
}

func (o *fakeOpener) open(cfg PortConfig) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.attempts = append(o.attempts, cfg.Baud)
	if o.fail[cfg.Baud] || (o.failAfter > 0 && len(o.ports) >= o.failAfter) {
		return nil, errors.New("unsupported rate")
	}

	p := &fakePort{baud: cfg.Baud, eof: o.eof}
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *fakeOpener) Attempts() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.attempts...)
}

func (o *fakeOpener) last() *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.ports) == 0 {
		return nil
	}
	return o.ports[len(o.ports)-1]
}

// fakeLoader stands in for the bootloader tool. Like the real one it may
// close the handle it was given.
type fakeLoader struct {
	chip        *ChipInfo
	identifyErr error
	table       []byte
	readErr     error
	eraseErr    error
	writeErr    error
	closeHandle bool
	panicErase  bool

	// hold keeps a closed handle for this long and counts whether anyone
	// reopened it meanwhile.
	hold     time.Duration
	reopened atomic.Int32

	// during is called from inside every operation.
	during func()

	mu    sync.Mutex
	calls []string
}

func (l *fakeLoader) enter(name string, h *Handle) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()

	if l.during != nil {
		l.during()
	}
	if l.closeHandle {
		h.Close()
		if l.hold > 0 {
			time.Sleep(l.hold)
			if h.IsOpen() {
				l.reopened.Inc()
			}
		}
	}
}

func (l *fakeLoader) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *fakeLoader) Identify(_ context.Context, h *Handle) (*ChipInfo, error) {
	l.enter("identify", h)
	if l.identifyErr != nil {
		return nil, l.identifyErr
	}
	return l.chip, nil
}

func (l *fakeLoader) ReadFlash(_ context.Context, h *Handle, _, _ uint32) ([]byte, error) {
	l.enter("read", h)
	return l.table, l.readErr
}

func (l *fakeLoader) EraseFlash(_ context.Context, h *Handle) error {
	l.enter("erase", h)
	if l.panicErase {
		panic("loader exploded")
	}
	return l.eraseErr
}

func (l *fakeLoader) WriteFlash(_ context.Context, h *Handle, image []byte, _ uint32, progress ProgressFunc) error {
	l.enter("write", h)
	if l.writeErr != nil {
		return l.writeErr
	}
	if progress != nil {
		progress(len(image)/2, len(image))
		progress(len(image), len(image))
	}
	return nil
}

func hasMessage(b *LogBuffer, msg string) bool {
	for _, e := range b.Snapshot() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// slowHandler delays records with a given message, widening the window
// around the log call.
type slowHandler struct {
	slog.Handler
	msg   string
	delay time.Duration
}

func (h slowHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Message == h.msg {
		time.Sleep(h.delay)
	}
	return h.Handler.Handle(ctx, r)
}
