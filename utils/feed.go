package utils

import (
	"sync"
	"time"
)

// FeedEvent is one entry on the live automation activity feed.
type FeedEvent struct {
	Kind    string    `json:"kind"` // step_sent, step_failed, enrollment_completed, reply_received, ...
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// FeedHub fans automation events out to websocket subscribers. Slow
// subscribers drop events rather than block the workers.
type FeedHub struct {
	mu   sync.Mutex
	subs map[chan FeedEvent]struct{}
}

// Feed is the process-wide hub the workers publish to.
var Feed = &FeedHub{subs: make(map[chan FeedEvent]struct{})}

func (h *FeedHub) Subscribe() chan FeedEvent {
	ch := make(chan FeedEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *FeedHub) Unsubscribe(ch chan FeedEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *FeedHub) Publish(kind, message string) {
	event := FeedEvent{Kind: kind, Message: message, At: time.Now()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
