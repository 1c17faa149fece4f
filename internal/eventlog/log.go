// Package eventlog is a fixed-capacity, insertion-ordered store of network
// events. When full, the oldest entry is overwritten.
package eventlog

import (
	"sync"

	"github.com/dgnsrekt/netmon/internal/types"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10000

// Log is a FIFO ring buffer of NetworkEvents. Safe for concurrent use.
type Log struct {
	mu sync.RWMutex

	entries  []types.NetworkEvent
	capacity int
	head     int // index of the next write once the buffer is full

	totalAdded   int64
	totalEvicted int64
}

func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]types.NetworkEvent, 0, min(capacity, 1024)),
		capacity: capacity,
	}
}

// Append adds ev, evicting the oldest entry first if the log is at capacity.
// It reports whether an entry was evicted.
func (l *Log) Append(ev types.NetworkEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalAdded++
	if len(l.entries) < l.capacity {
		l.entries = append(l.entries, ev)
		return false
	}
	l.entries[l.head] = ev
	l.head = (l.head + 1) % l.capacity
	l.totalEvicted++
	return true
}

// All returns a copy of every retained event, oldest first.
func (l *Log) All() []types.NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collectLocked(nil)
}

// ByKind returns retained events of the given kind, oldest first.
func (l *Log) ByKind(kind types.EventKind) []types.NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collectLocked(func(ev *types.NetworkEvent) bool {
		return ev.Kind == kind
	})
}

// ByURL returns retained events whose URL (response URL when present,
// request URL otherwise) satisfies match.
func (l *Log) ByURL(match func(string) bool) []types.NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collectLocked(func(ev *types.NetworkEvent) bool {
		u := ev.URL()
		return u != "" && match(u)
	})
}

// collectLocked walks the ring oldest-first; must be called with mu held.
func (l *Log) collectLocked(keep func(*types.NetworkEvent) bool) []types.NetworkEvent {
	result := make([]types.NetworkEvent, 0, len(l.entries))
	n := len(l.entries)
	start := 0
	if n == l.capacity {
		start = l.head
	}
	for i := 0; i < n; i++ {
		ev := &l.entries[(start+i)%n]
		if keep == nil || keep(ev) {
			result = append(result, Clone(*ev))
		}
	}
	return result
}

// Clone copies the records behind ev so callers never share memory that
// Update may later modify.
func Clone(ev types.NetworkEvent) types.NetworkEvent {
	if ev.Request != nil {
		req := *ev.Request
		ev.Request = &req
	}
	if ev.Response != nil {
		resp := *ev.Response
		ev.Response = &resp
	}
	return ev
}

// Update runs fn under the write lock. Used to stamp timing onto request
// records that logged events already point to.
func (l *Log) Update(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Clear drops all entries. Counters are reset as well.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
	l.head = 0
	l.totalAdded = 0
	l.totalEvicted = 0
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) Cap() int {
	return l.capacity
}

// Stats reports how many events were ever appended and evicted since the
// last Clear.
func (l *Log) Stats() (added, evicted int64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalAdded, l.totalEvicted
}
