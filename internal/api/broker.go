package api

import (
	"sync"
)

// Event is one server-sent event of a conversation stream.
type Event struct {
	Type      string `json:"type"` // message, reveal, idle
	MessageID string `json:"message_id,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// broker fans conversation events out to stream subscribers. Publish never
// blocks: a subscriber that falls behind misses events. Reveal events carry
// the full prefix, so the display catches up on the next one.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[chan Event]struct{})}
}

func (b *broker) Subscribe(convID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	if b.subs[convID] == nil {
		b.subs[convID] = make(map[chan Event]struct{})
	}
	b.subs[convID][ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[convID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, convID)
		}
		close(ch)
	}
}

func (b *broker) Publish(convID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[convID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Drop closes every subscriber of a conversation.
func (b *broker) Drop(convID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[convID] {
		close(ch)
	}
	delete(b.subs, convID)
}
