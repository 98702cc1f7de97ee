package flashops

import (
	"sync"
	"time"
)

// DefaultLogCapacity is how many entries a LogBuffer keeps.
const DefaultLogCapacity = 200

// Category tags a LogEntry.
type Category string

const (
	CategoryInfo         Category = "info"
	CategorySuccess      Category = "success"
	CategoryError        Category = "error"
	CategoryWarning      Category = "warning"
	CategoryDeviceOutput Category = "device-output"
	CategorySystem       Category = "system"
)

// LogEntry is one line of the session's log stream.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Category  Category
}

// LogBuffer is an append-only, capacity-bounded log stream. Once full, the
// oldest entries are dropped.
type LogBuffer struct {
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries []LogEntry
	subs    map[int]chan LogEntry
	nextSub int
}

// NewLogBuffer returns an empty buffer. capacity <= 0 selects
// DefaultLogCapacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{
		capacity: capacity,
		now:      time.Now,
		subs:     make(map[int]chan LogEntry),
	}
}

// Add appends a message stamped with the current time.
func (b *LogBuffer) Add(c Category, msg string) {
	b.Append(LogEntry{Timestamp: b.now(), Message: msg, Category: c})
}

// Append appends e and hands it to every subscriber. Subscribers that are
// not keeping up miss entries rather than stall the writer.
func (b *LogBuffer) Append(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.capacity; over > 0 {
		b.entries = b.entries[over:]
	}

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Snapshot returns a copy of the entries, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries held.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Subscribe returns a channel receiving every entry appended from now on.
// The returned func unsubscribes and closes the channel.
func (b *LogBuffer) Subscribe(size int) (<-chan LogEntry, func()) {
	ch := make(chan LogEntry, size)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
