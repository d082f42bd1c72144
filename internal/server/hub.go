package server

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/apply-orchestrator/internal/pipeline"
)

// hubBuffer is the per-subscriber backlog; slower readers lose events.
const hubBuffer = 32

// Hub fans pipeline progress out to streaming clients. Publish is meant to be
// the orchestrator's OnProgress callback.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan pipeline.ProgressEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan pipeline.ProgressEvent]struct{})}
}

// Subscribe returns a channel of events for one application and a function
// that unsubscribes and closes it.
func (h *Hub) Subscribe(id uuid.UUID) (<-chan pipeline.ProgressEvent, func()) {
	ch := make(chan pipeline.ProgressEvent, hubBuffer)

	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan pipeline.ProgressEvent]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[id], ch)
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
			close(ch)
		})
	}
}

// Publish delivers an event to the subscribers of its application without blocking.
func (h *Hub) Publish(event pipeline.ProgressEvent) {
	id, err := uuid.Parse(event.ApplicationID)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[id] {
		select {
		case ch <- event:
		default:
			log.Printf("[SSE] Dropping %s event for slow subscriber of %s", event.Step, id)
		}
	}
}

// Subscribers returns the number of open subscriptions for an application.
func (h *Hub) Subscribers(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}
