package engine

import (
	"sync"
	"time"
)

// EventType classifies daemon events published to the event stream.
type EventType string

const (
	EventNodeRegistered   EventType = "node_registered"
	EventNodeUnregistered EventType = "node_unregistered"
	EventNodeReloaded     EventType = "node_reloaded"
	EventInstanceCreated  EventType = "instance_created"
	EventBuildCompleted   EventType = "build_completed"
	EventBuildFailed      EventType = "build_failed"
	EventTailLines        EventType = "tail_lines"
	EventWebhookQueued    EventType = "webhook_queued"
	EventWebhookProcessed EventType = "webhook_processed"
)

// Event is one observable daemon occurrence, streamed to API subscribers.
type Event struct {
	Type       EventType              `json:"type"`
	NodeID     string                 `json:"node_id,omitempty"`
	InstanceID string                 `json:"instance_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Broadcaster fans events out to subscribers. Slow subscribers drop events
// rather than block the daemon.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel and a cancel function. The
// channel is closed on cancel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers without blocking.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
