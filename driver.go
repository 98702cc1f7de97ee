package flashops

import (
	"errors"
	"fmt"
	"io"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultReadTimeout bounds a single read in monitor mode, and therefore how
// long Suspend can wait for the read loop to let go of the port.
const DefaultReadTimeout = 100 * time.Millisecond

// Port is an open byte-stream endpoint. A read that times out must return
// (0, nil); io.EOF means the stream has ended.
type Port interface {
	io.ReadWriteCloser
}

// PortConfig describes how to open a port.
type PortConfig struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
}

// OpenFunc opens a port. Drivers are swapped by swapping the OpenFunc.
type OpenFunc func(PortConfig) (Port, error)

// OpenerFor returns the OpenFunc for a named driver ("bugst" or "tarm").
func OpenerFor(driver string) (OpenFunc, error) {
	switch driver {
	case "", "bugst":
		return BugstOpen, nil
	case "tarm":
		return TarmOpen, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q", driver)
	}
}

// BugstOpen opens cfg.Name with go.bug.st/serial, 8N1.
func BugstOpen(cfg PortConfig) (Port, error) {
	p, err := serial.Open(cfg.Name, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	return p, nil
}

// TarmOpen opens cfg.Name with github.com/tarm/serial.
func TarmOpen(cfg PortConfig) (Port, error) {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	p, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	return &tarmPort{p}, nil
}

// tarm/serial reports an expired read timeout as io.EOF.
type tarmPort struct {
	*tarm.Port
}

func (p *tarmPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// PortInfo describes a serial port present on the host.
type PortInfo struct {
	Name         string
	USB          bool
	VID, PID     string
	SerialNumber string
	Product      string
}

// ListPorts enumerates serial ports, with USB details where available.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Fall back to names only.
		names, nerr := serial.GetPortsList()
		if nerr != nil {
			return nil, fmt.Errorf("listing ports: %w", errors.Join(err, nerr))
		}
		ports := make([]PortInfo, 0, len(names))
		for _, n := range names {
			ports = append(ports, PortInfo{Name: n})
		}
		return ports, nil
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}

	return ports, nil
}
