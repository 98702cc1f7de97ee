package flashops

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Recorder writes log entries to Dest as a gob stream, for later replay
// with ReadIn.
type Recorder struct {
	Dest io.Writer

	mu   sync.Mutex
	enc  *gob.Encoder
	once sync.Once
}

func (r *Recorder) Receive(e LogEntry) error {
	r.init()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(e)
}

func (r *Recorder) init() {
	r.once.Do(func() {
		r.enc = gob.NewEncoder(r.Dest)
	})
}

// Record drains entries into r until the channel closes.
func (r *Recorder) Record(entries <-chan LogEntry) error {
	for e := range entries {
		if err := r.Receive(e); err != nil {
			return fmt.Errorf("while recording: %w", err)
		}
	}
	return nil
}

// ReadIn decodes a recording from r onto out, closing out when done.
func ReadIn(out chan<- LogEntry, r io.Reader) error {
	defer close(out)

	dec := gob.NewDecoder(r)

	for {
		var e LogEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("while decoding: %w", err)
		}

		out <- e
	}
}
