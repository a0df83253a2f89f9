// Package events fans job status changes out to subscribers, typically SSE
// clients. Delivery is best effort: a subscriber that falls behind loses
// events rather than blocking the pipeline.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// StatusEvent is one observable change to a job.
type StatusEvent struct {
	JobID     string           `json:"job_id"`
	Status    domain.JobStatus `json:"status"`
	Kind      string           `json:"kind"` // "status", "response", "engagement"
	Detail    string           `json:"detail,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

const subscriberBuffer = 200

// Broadcaster is the process-wide status event hub.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan StatusEvent
	closed      bool

	published int64
	dropped   int64
}

// NewBroadcaster creates an empty hub.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[string]chan StatusEvent)}
}

// Subscribe registers a client for status events.
func (b *Broadcaster) Subscribe(id string) <-chan StatusEvent {
	ch := make(chan StatusEvent, subscriberBuffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subscribers[id] = ch
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber without blocking. A full
// subscriber buffer drops the event for that subscriber only.
func (b *Broadcaster) Publish(e StatusEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	atomic.AddInt64(&b.published, 1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			atomic.AddInt64(&b.dropped, 1)
		}
	}
}

// Close shuts the hub down; all subscriber channels close and further
// Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Stats reports publish and drop counters.
func (b *Broadcaster) Stats() map[string]int64 {
	b.mu.RLock()
	n := int64(len(b.subscribers))
	b.mu.RUnlock()
	return map[string]int64{
		"published":   atomic.LoadInt64(&b.published),
		"dropped":     atomic.LoadInt64(&b.dropped),
		"subscribers": n,
	}
}
