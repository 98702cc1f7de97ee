package flashops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Greeting seeds every session's log stream.
const Greeting = `flashops ready.
1. Connect a device
2. [Optional] Erase flash
3. Flash an image`

// Option configures a Session.
type Option func(*sessionConfig)

type sessionConfig struct {
	baud            int
	autoDetect      bool
	candidates      []int
	open            OpenFunc
	readTimeout     time.Duration
	partitionOffset uint32
	partitionLength uint32
	logs            *LogBuffer
	logger          *slog.Logger
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		baud:            115200,
		autoDetect:      true,
		open:            BugstOpen,
		readTimeout:     DefaultReadTimeout,
		partitionOffset: PartitionTableOffset,
		partitionLength: PartitionTableLength,
	}
}

// WithBaud sets the requested rate, used directly or as the auto-detect
// fallback.
func WithBaud(baud int) Option {
	return func(c *sessionConfig) {
		if baud > 0 {
			c.baud = baud
		}
	}
}

// WithAutoDetect enables or disables baud auto-detection. Default is true.
func WithAutoDetect(auto bool) Option {
	return func(c *sessionConfig) { c.autoDetect = auto }
}

// WithCandidates overrides DefaultBaudCandidates.
func WithCandidates(rates []int) Option {
	return func(c *sessionConfig) { c.candidates = rates }
}

// WithOpener selects the port driver.
func WithOpener(open OpenFunc) Option {
	return func(c *sessionConfig) {
		if open != nil {
			c.open = open
		}
	}
}

// WithReadTimeout sets the per-read timeout of the monitor loop.
func WithReadTimeout(d time.Duration) Option {
	return func(c *sessionConfig) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithPartitionTable overrides where the partition table is read from.
func WithPartitionTable(offset, length uint32) Option {
	return func(c *sessionConfig) {
		c.partitionOffset = offset
		if length > 0 {
			c.partitionLength = length
		}
	}
}

// WithLogBuffer sets the log stream the session writes to.
func WithLogBuffer(b *LogBuffer) Option {
	return func(c *sessionConfig) { c.logs = b }
}

// WithLogger sets the operator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) { c.logger = l }
}

// Session drives one device: connect, identify, read the partition table,
// monitor, and erase/flash on demand with monitoring restored afterwards.
type Session struct {
	cfg     sessionConfig
	loader  Loader
	logs    *LogBuffer
	logger  *slog.Logger
	arbiter *Arbiter
	neg     *Negotiator

	mu         sync.Mutex
	baud       int
	chip       *ChipInfo
	partitions []Partition
}

// ConnectResult summarises a successful Connect. Warnings holds failures
// that did not prevent the connection (identify, partition read, resume).
type ConnectResult struct {
	Baud       int
	Chip       *ChipInfo
	Partitions []Partition
	Warnings   []error
}

// NewSession returns a disconnected session using loader for control
// operations.
func NewSession(loader Loader, opts ...Option) *Session {
	if loader == nil {
		panic("loader cannot be nil")
	}

	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logs := cfg.logs
	if logs == nil {
		logs = NewLogBuffer(0)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	logs.Add(CategorySystem, Greeting)

	return &Session{
		cfg:     cfg,
		loader:  loader,
		logs:    logs,
		logger:  logger,
		arbiter: NewArbiter(logs, logger),
		neg:     &Negotiator{Candidates: cfg.candidates, Logger: logger},
	}
}

// Logs returns the session's log stream.
func (s *Session) Logs() *LogBuffer { return s.logs }

// State returns the arbiter state.
func (s *Session) State() State { return s.arbiter.State() }

// Active reports which consumer currently owns the transport.
func (s *Session) Active() (monitor, control bool) { return s.arbiter.Active() }

// Baud returns the negotiated rate, or 0 when disconnected.
func (s *Session) Baud() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

// Chip returns the identified chip, or nil.
func (s *Session) Chip() *ChipInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chip
}

// Partitions returns the decoded partition table, possibly empty.
func (s *Session) Partitions() []Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Partition(nil), s.partitions...)
}

// Connect opens port, identifies the chip, reads the partition table and
// enters monitor mode. Only open and negotiation failures abort it.
func (s *Session) Connect(ctx context.Context, port string) (*ConnectResult, error) {
	if s.arbiter.State() != Idle {
		return nil, fmt.Errorf("connecting to %s: already connected", port)
	}

	h := NewHandle(port, s.cfg.open, s.cfg.readTimeout)
	baud, err := s.neg.Negotiate(ctx, h, s.cfg.baud, s.cfg.autoDetect)
	if err != nil {
		s.logs.Add(CategoryError, fmt.Sprintf("Connection error: %v", err))
		return nil, fmt.Errorf("connecting to %s: %w", port, err)
	}

	if err := s.arbiter.Attach(h); err != nil {
		h.Close()
		return nil, fmt.Errorf("connecting to %s: %w", port, err)
	}

	s.mu.Lock()
	s.baud = baud
	s.mu.Unlock()

	s.logger.Info("connected", "port", port, "baud", baud)
	s.logs.Add(CategorySuccess, fmt.Sprintf("Connected at %d baud.", baud))

	res := &ConnectResult{Baud: baud}
	warn := func(msg string, err error) {
		res.Warnings = append(res.Warnings, err)
		s.logger.Warn(msg, "port", port, "error", err)
		s.logs.Add(CategoryWarning, fmt.Sprintf("%s: %v", msg, err))
	}

	s.logs.Add(CategoryInfo, "Querying hardware...")
	err = s.arbiter.RunControl(ctx, "identify", func(ctx context.Context, h *Handle) error {
		chip, err := s.loader.Identify(ctx, h)
		res.Chip = chip
		return err
	})
	if err != nil {
		res.Chip = nil
		warn("Identify failed", err)
	} else if res.Chip != nil {
		s.logs.Add(CategorySuccess, fmt.Sprintf("Detected %s (MAC %s, %s flash).",
			res.Chip.Name, res.Chip.MAC, res.Chip.ReadableFlashSize()))
	}

	err = s.arbiter.RunControl(ctx, "read-partitions", func(ctx context.Context, h *Handle) error {
		data, err := s.loader.ReadFlash(ctx, h, s.cfg.partitionOffset, s.cfg.partitionLength)
		if err != nil {
			return err
		}
		res.Partitions = DecodePartitions(data)
		return nil
	})
	switch {
	case err != nil:
		res.Partitions = nil
		warn("Reading partition table failed", err)
	case len(res.Partitions) == 0:
		s.logs.Add(CategoryInfo, "No partition table found.")
	default:
		s.logs.Add(CategoryInfo, fmt.Sprintf("Found %d partitions.", len(res.Partitions)))
	}

	s.mu.Lock()
	s.chip = res.Chip
	s.partitions = res.Partitions
	s.mu.Unlock()

	if err := s.resume(); err != nil {
		warn("Monitor not resumed", err)
	}

	return res, nil
}

// resume restarts monitoring at the negotiated rate. The reopen happens
// inside the arbiter so it cannot overlap another caller's control
// operation.
func (s *Session) resume() error {
	if err := s.arbiter.Resume(s.Baud()); err != nil {
		return &ResumeError{Err: err}
	}
	return nil
}

// Erase erases the whole flash. Monitoring is resumed whatever the outcome.
func (s *Session) Erase(ctx context.Context) error {
	return s.exclusive(ctx, "erase", "Flash erased.", func(ctx context.Context, h *Handle) error {
		return s.loader.EraseFlash(ctx, h)
	})
}

// Flash writes image at offset. Monitoring is resumed whatever the outcome.
func (s *Session) Flash(ctx context.Context, image []byte, offset uint32, progress ProgressFunc) error {
	if len(image) == 0 {
		return errors.New("flash image is empty")
	}

	msg := fmt.Sprintf("Wrote %d bytes at 0x%X.", len(image), offset)
	return s.exclusive(ctx, "flash", msg, func(ctx context.Context, h *Handle) error {
		return s.loader.WriteFlash(ctx, h, image, offset, progress)
	})
}

// exclusive runs op in control mode and then always attempts to resume
// monitoring. A resume failure is joined to, never substituted for, the
// operation's own result.
func (s *Session) exclusive(ctx context.Context, name, okMsg string, op ControlFunc) error {
	if s.arbiter.State() == Idle {
		return ErrNotConnected
	}

	s.arbiter.Suspend()

	err := s.arbiter.RunControl(ctx, name, op)
	if err != nil {
		s.logger.Error("control operation failed", "op", name, "error", err)
		s.logs.Add(CategoryError, fmt.Sprintf("%s failed: %v", name, err))
	} else {
		s.logger.Info("control operation complete", "op", name)
		s.logs.Add(CategorySuccess, okMsg)
	}

	if rerr := s.resume(); rerr != nil {
		s.logger.Warn("monitor not resumed", "op", name, "error", rerr)
		s.logs.Add(CategoryWarning, fmt.Sprintf("Monitor not resumed: %v", rerr))
		return errors.Join(err, rerr)
	}

	return err
}

// Write sends terminal input to the device while monitoring.
func (s *Session) Write(data []byte) error {
	if s.arbiter.State() == Idle {
		return ErrNotConnected
	}
	return s.arbiter.Write(data)
}

// Disconnect releases the transport and forgets everything learned about
// the device.
func (s *Session) Disconnect() error {
	err := s.arbiter.Release()

	s.mu.Lock()
	s.baud = 0
	s.chip = nil
	s.partitions = nil
	s.mu.Unlock()

	s.logs.Add(CategoryInfo, "Device disconnected.")
	if err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	return nil
}
