// Package events fans node change events out to SSE subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
)

// Subscription is one subscriber's event channel.
type Subscription struct {
	C          chan protocol.Event
	collection string
}

// Broadcaster manages SSE subscribers and publishes events.
// A subscriber only receives events of the collection it subscribed to.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe adds a subscriber for one collection key.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe(collection string) *Subscription {
	sub := &Subscription{C: make(chan protocol.Event, 64), collection: collection}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.C)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends an event to the collection's subscribers. Non-blocking:
// drops events for slow consumers.
func (b *Broadcaster) Publish(event protocol.Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if sub.collection != event.Collection {
			continue
		}
		select {
		case sub.C <- event:
		default:
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Close ends every subscription. Streams waiting on them return.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for sub := range b.subscribers {
		delete(b.subscribers, sub)
		close(sub.C)
	}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(0)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e protocol.Event) ([]byte, error) {
	return json.Marshal(e)
}
