package engine

import "sync"

// Notification topics.
const (
	TopicView      = "view"
	TopicConflicts = "conflicts"
	TopicPresence  = "presence"
	TopicFailures  = "failures"
)

// Notice tells a subscriber that something under a topic changed. Notices are
// coalescing signals, not a change log; subscribers re-query the engine.
type Notice struct {
	Topic      string `json:"topic"`
	EntityType string `json:"entityType,omitempty"`
	EntityID   string `json:"entityId,omitempty"`
	BoardID    string `json:"boardId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Broker fans notices out to subscribers. Sends never block; a subscriber
// that is not draining misses intermediate notices and catches up on the next.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Notice]struct{}
}

func newBroker() *Broker {
	return &Broker{subs: make(map[chan Notice]struct{})}
}

// Subscribe registers a new subscriber channel.
func (b *Broker) Subscribe() chan Notice {
	ch := make(chan Notice, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *Broker) Unsubscribe(ch chan Notice) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *Broker) notify(n Notice) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
	b.mu.Unlock()
}
