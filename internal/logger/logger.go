// Package logger builds the operator logger for flashops. Device output is
// not logged here; it goes to the session's log stream.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.tigermatt.uk/flashops/internal/config"
)

// New returns a logger tagged with app=flashops. The returned func closes a
// log file and should be deferred.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	w, closer, err := output(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log output %q: %w", cfg.Output, err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}

	return slog.New(h).With("app", "flashops"), closer, nil
}

// ParseLevel accepts the slog level names (with offsets such as "debug+2")
// and "warning". Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// output resolves stderr, stdout, discard, or a file path appended to.
func output(name string) (io.Writer, func() error, error) {
	nop := func() error { return nil }

	switch strings.ToLower(name) {
	case "", "stderr":
		return os.Stderr, nop, nil
	case "stdout":
		return os.Stdout, nop, nil
	case "discard":
		return io.Discard, nop, nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
