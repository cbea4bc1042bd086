// Package events implements the Queue Event Bus described in spec §4.11:
// an informational fan-out of stage-status transitions, consumed by
// dashboards and log tailers. The Source-Stage-Status table in
// internal/store remains the single source of truth; a dropped or missed
// event here never loses information a caller can't re-derive from
// get_stage_snapshot.
//
// The shape is adapted from the subscriber-registry pattern in
// codeready-toolchain-tarsy/pkg/events/manager.go, stripped of its
// WebSocket transport (that dependency was not carried into this module,
// see DESIGN.md) down to a plain in-process channel fan-out.
package events

import (
	"sync"
	"time"

	"github.com/knowledgeminer/knowledgeminer/internal/store"
)

// Event is one stage-status transition, mirroring store.StageStatus plus a
// few job-level fields a dashboard needs and the status table doesn't
// carry (spec §6.3: "(source_id, stage, status, progress, worker_id,
// metadata)").
type Event struct {
	SourceID  string
	Stage     store.Stage
	Status    store.StageStatusValue
	Progress  float64
	WorkerID  string
	Metadata  map[string]any
	Timestamp time.Time
}

// defaultBuffer bounds a subscriber's backlog before Publish starts
// dropping events to it rather than blocking the publisher.
const defaultBuffer = 64

// Bus is a simple multi-subscriber fan-out. Zero value is not usable; use
// [NewBus].
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// NewBus builds an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its event channel plus an
// unsubscribe func the caller must invoke when done listening.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, defaultBuffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

// Publish fans e out to every current subscriber. A subscriber whose
// buffer is full has the event dropped rather than blocking the publisher
// — the bus is informational only (spec §4.11).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount reports the current number of active subscribers, for
// observability.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
