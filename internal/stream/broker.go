// Package stream fans captured events out to live clients over SSE and
// WebSocket.
package stream

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/netmon/internal/types"
)

const DefaultBufferSize = 256

// Event is one serialized NetworkEvent.
type Event struct {
	Kind    types.EventKind
	Payload []byte
}

// Broker fans out events to all subscribed clients.
type Broker struct {
	bufSize     int
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Broker{
		bufSize:     bufSize,
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. Returns the subscriber ID and a channel
// to receive events on. The channel is buffered; slow consumers will have
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish serializes ev once and sends it to every subscriber without
// blocking.
func (b *Broker) Publish(ev types.NetworkEvent) {
	if b.ClientCount() == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("stream: marshal event", "error", err, "event_id", ev.ID)
		return
	}
	evt := Event{Kind: ev.Kind, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped is the number of deliveries skipped because a client was behind.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
