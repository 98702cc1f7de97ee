package flashops

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
)

// State is the Arbiter's ownership state.
type State int

const (
	// Idle: no handle held.
	Idle State = iota
	// Monitoring: the read loop owns the handle.
	Monitoring
	// Suspended: a handle is held and nobody is using it.
	Suspended
	// ControlBusy: a control operation owns the handle.
	ControlBusy
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Monitoring:
		return "monitoring"
	case Suspended:
		return "suspended"
	case ControlBusy:
		return "control-busy"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ControlFunc is an exclusive request/response operation on the handle.
// It may close and reopen the handle.
type ControlFunc func(ctx context.Context, h *Handle) error

// Arbiter hands a single Handle to at most one consumer at a time: either
// the monitor read loop or one control operation.
//
// Every public transition holds op for its full duration, so a control
// operation never overlaps another transition. The read loop itself only
// takes mu.
type Arbiter struct {
	logs   *LogBuffer
	logger *slog.Logger

	op sync.Mutex

	mu     sync.Mutex
	state  State
	handle *Handle
	mon    *monitorRun

	monitoring  atomic.Bool
	controlling atomic.Bool
}

type monitorRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewArbiter returns an Idle arbiter emitting device output into logs.
func NewArbiter(logs *LogBuffer, logger *slog.Logger) *Arbiter {
	if logs == nil {
		logs = NewLogBuffer(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{logs: logs, logger: logger}
}

// State returns the current state.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Handle returns the held handle, or nil when Idle.
func (a *Arbiter) Handle() *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// Active reports whether the read loop is running and whether a control
// operation is executing. Both are never true together.
func (a *Arbiter) Active() (monitor, control bool) {
	return a.monitoring.Load(), a.controlling.Load()
}

// setState must be called with mu held.
func (a *Arbiter) setState(s State) State {
	if a.state != s {
		a.logger.Debug("arbiter transition", "from", a.state.String(), "to", s.String())
	}
	a.state = s
	return s
}

// Attach takes ownership of h without starting a consumer: Idle -> Suspended.
func (a *Arbiter) Attach(h *Handle) error {
	if h == nil {
		return ErrNoHandle
	}

	a.op.Lock()
	defer a.op.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil {
		if a.handle == h {
			return nil
		}
		return fmt.Errorf("arbiter already holds %s", a.handle.Name())
	}

	a.handle = h
	a.setState(Suspended)
	return nil
}

// AcquireMonitor starts the read loop on h (or on the held handle when h is
// nil). From Idle it takes ownership of h. The handle must be open.
func (a *Arbiter) AcquireMonitor(h *Handle) error {
	a.op.Lock()
	defer a.op.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if h != nil && a.handle != nil && h != a.handle {
		return fmt.Errorf("arbiter already holds %s", a.handle.Name())
	}

	if a.state == Monitoring {
		return nil
	}

	target := a.handle
	if target == nil {
		if h == nil {
			return ErrNoHandle
		}
		target = h
	}

	if !target.IsOpen() {
		return fmt.Errorf("starting monitor on %s: %w", target.Name(), ErrHandleClosed)
	}

	a.handle = target
	a.startMonitor(target)
	return nil
}

// Resume reopens the held handle at baud if a control operation left it
// closed or at another rate, then starts the read loop. Both happen in one
// transition, so no control operation can be handed the handle in between.
func (a *Arbiter) Resume(baud int) error {
	a.op.Lock()
	defer a.op.Unlock()

	a.mu.Lock()
	h, state := a.handle, a.state
	a.mu.Unlock()

	if h == nil {
		return ErrNoHandle
	}
	if state == Monitoring && h.IsOpen() && h.Baud() == baud {
		return nil
	}

	a.suspend()

	if h.IsOpen() && h.Baud() != baud {
		if err := h.Close(); err != nil {
			a.logger.Warn("closing handle before resume", "port", h.Name(), "error", err)
		}
	}
	if !h.IsOpen() {
		if err := h.Open(baud); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.startMonitor(h)
	return nil
}

// startMonitor must be called with op and mu held.
func (a *Arbiter) startMonitor(h *Handle) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &monitorRun{cancel: cancel, done: make(chan struct{})}
	a.mon = run
	a.monitoring.Store(true)
	a.setState(Monitoring)

	go a.runMonitor(ctx, run, h)
}

func (a *Arbiter) runMonitor(ctx context.Context, run *monitorRun, h *Handle) {
	defer close(run.done)

	m := &Monitor{
		Source: h,
		OnReceive: func(bs []byte) {
			if msg := deviceText(bs); msg != "" {
				a.logs.Add(CategoryDeviceOutput, msg)
			}
		},
	}

	if err := m.Consume(ctx); err != nil {
		a.logger.Error("monitor stopped", "port", h.Name(), "error", err)
		a.logs.Add(CategoryError, fmt.Sprintf("Serial read error: %v", err))
	}

	a.monitoring.Store(false)

	a.mu.Lock()
	if a.mon == run {
		a.mon = nil
		if a.state == Monitoring {
			a.setState(Suspended)
		}
	}
	a.mu.Unlock()
}

// Suspend stops the read loop and returns once it has released the handle.
// Without an active monitor it does nothing.
func (a *Arbiter) Suspend() {
	a.op.Lock()
	defer a.op.Unlock()
	a.suspend()
}

// suspend must be called with op held.
func (a *Arbiter) suspend() {
	a.mu.Lock()
	run := a.mon
	a.mu.Unlock()

	if run == nil {
		return
	}

	run.cancel()
	<-run.done
}

// RunControl runs op with exclusive use of the handle. An active monitor is
// suspended first. Whatever op does, including panicking, the arbiter ends
// up Suspended and ready for AcquireMonitor. Failures are returned as
// *ControlError.
func (a *Arbiter) RunControl(ctx context.Context, name string, op ControlFunc) error {
	a.op.Lock()
	defer a.op.Unlock()

	a.suspend()

	a.mu.Lock()
	h := a.handle
	if h == nil {
		a.mu.Unlock()
		return ErrNoHandle
	}
	a.controlling.Store(true)
	a.setState(ControlBusy)
	a.mu.Unlock()

	defer func() {
		a.controlling.Store(false)
		a.mu.Lock()
		if a.state == ControlBusy {
			a.setState(Suspended)
		}
		a.mu.Unlock()
	}()

	a.logger.Debug("control operation started", "op", name, "port", h.Name())
	if err := invoke(ctx, name, op, h); err != nil {
		a.logger.Debug("control operation failed", "op", name, "error", err)
		return &ControlError{Op: name, Err: err}
	}

	return nil
}

func invoke(ctx context.Context, name string, op ControlFunc, h *Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Kind: Aborted, Op: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return op(ctx, h)
}

// Write sends p to the device while monitoring. It fails fast rather than
// wait behind a control operation.
func (a *Arbiter) Write(p []byte) error {
	if !a.op.TryLock() {
		return ErrControlBusy
	}
	defer a.op.Unlock()

	a.mu.Lock()
	state, h := a.state, a.handle
	a.mu.Unlock()

	if state != Monitoring {
		return ErrNotMonitoring
	}

	if _, err := h.Write(p); err != nil {
		return fmt.Errorf("writing to %s: %w", h.Name(), err)
	}
	return nil
}

// Release stops any consumer, closes the handle and returns to Idle. It
// waits for an in-flight control operation to finish.
func (a *Arbiter) Release() error {
	a.op.Lock()
	defer a.op.Unlock()

	a.suspend()

	a.mu.Lock()
	h := a.handle
	a.handle = nil
	a.setState(Idle)
	a.mu.Unlock()

	if h == nil {
		return nil
	}

	if err := h.Close(); err != nil {
		a.logger.Warn("closing handle on release", "port", h.Name(), "error", err)
		return err
	}
	return nil
}
