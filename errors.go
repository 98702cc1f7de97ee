package flashops

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWorkingRate is returned when baud negotiation exhausted every
	// candidate rate and the requested fallback rate.
	ErrNoWorkingRate = errors.New("no working baud rate")

	ErrNotConnected  = errors.New("device not connected")
	ErrNoHandle      = errors.New("arbiter holds no transport handle")
	ErrControlBusy   = errors.New("control operation in progress")
	ErrNotMonitoring = errors.New("monitor is not active")
	ErrHandleClosed  = errors.New("transport handle is closed")
)

// OpenError indicates that the underlying port could not be opened at a
// particular rate (permission denied, device busy, unsupported rate).
type OpenError struct {
	Port string
	Baud int
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening %s at %d baud: %v", e.Port, e.Baud, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// FailureKind classifies a failure reported by a control operation.
type FailureKind int

const (
	TransportError FailureKind = iota
	DeviceTimeout
	ProtocolMismatch
	Aborted
)

func (k FailureKind) String() string {
	switch k {
	case TransportError:
		return "transport error"
	case DeviceTimeout:
		return "device timeout"
	case ProtocolMismatch:
		return "protocol mismatch"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("failure(%d)", int(k))
	}
}

// Failure is the typed error a Loader returns. The arbiter passes it
// through untouched.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ControlError wraps whatever a control operation returned.
type ControlError struct {
	Op  string
	Err error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control operation %q: %v", e.Op, e.Err)
}

func (e *ControlError) Unwrap() error { return e.Err }

// ResumeError reports that monitor mode could not be restored after a
// control operation. It is a warning: the session stays usable for a new
// explicit connect.
type ResumeError struct {
	Err error
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("resuming monitor: %v", e.Err)
}

func (e *ResumeError) Unwrap() error { return e.Err }

// IsResumeOnly reports whether err carries a resume failure and nothing
// else, i.e. the requested action itself succeeded.
func IsResumeOnly(err error) bool {
	var re *ResumeError
	var ce *ControlError
	return errors.As(err, &re) && !errors.As(err, &ce)
}
