package event

import (
	"sync"
	"time"
)

// Kind is the lifecycle stage a RunEvent reports.
type Kind string

const (
	KindStarted   Kind = "started"
	KindChunk     Kind = "chunk"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// RunEvent is a progress notification for one pipeline run.
type RunEvent struct {
	RunID   string    `json:"run_id"`
	Kind    Kind      `json:"kind"`
	Chunk   int       `json:"chunk,omitempty"`
	Rows    int       `json:"rows,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Hub fans run events out to subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan RunEvent
	nextID uint64
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[uint64]chan RunEvent),
		buffer: buffer,
	}
}

// Subscribe registers a new listener. The returned func unsubscribes and
// closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan RunEvent, func()) {
	ch := make(chan RunEvent, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber.
func (h *Hub) Publish(ev RunEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default: // DROP
		}
	}
}

// Subscribers returns the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
