package flashops

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultBaudCandidates is the auto-detect order: the ESP32 ROM default
// first, then the common flashing rates downwards.
var DefaultBaudCandidates = []int{115200, 921600, 460800, 230400, 74880, 57600, 9600}

// Negotiator opens a Handle at a working rate.
type Negotiator struct {
	Candidates []int
	Logger     *slog.Logger
}

// Negotiate opens h at requested, or with autoDetect tries each candidate
// in order and falls back to requested. On return h is either open at the
// returned rate or fully closed.
func (n *Negotiator) Negotiate(ctx context.Context, h *Handle, requested int, autoDetect bool) (int, error) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := h.Close(); err != nil {
		logger.Warn("closing handle before negotiation", "port", h.Name(), "error", err)
	}

	if !autoDetect {
		if err := h.Open(requested); err != nil {
			return 0, err
		}
		return requested, nil
	}

	candidates := n.Candidates
	if len(candidates) == 0 {
		candidates = DefaultBaudCandidates
	}

	for _, rate := range candidates {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("negotiating baud rate: %w", err)
		}

		err := h.Open(rate)
		if err == nil {
			logger.Debug("baud rate negotiated", "port", h.Name(), "baud", rate)
			return rate, nil
		}

		logger.Debug("baud candidate failed", "port", h.Name(), "baud", rate, "error", err)
		if cerr := h.Close(); cerr != nil {
			logger.Warn("closing handle after failed open", "port", h.Name(), "error", cerr)
		}
	}

	logger.Warn("auto-detect failed, falling back", "port", h.Name(), "baud", requested)
	if err := h.Open(requested); err != nil {
		if cerr := h.Close(); cerr != nil {
			logger.Warn("closing handle after failed fallback", "port", h.Name(), "error", cerr)
		}
		return 0, fmt.Errorf("%w: tried %v and %d: %w", ErrNoWorkingRate, candidates, requested, err)
	}

	return requested, nil
}
