package kernel

import (
	"sync"
	"time"
)

// Notification is one broadcast message: echoed input, execution results,
// streamed output, kernel info, input prompts, or generic client events.
type Notification struct {
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans notifications out to subscribers and keeps a bounded backlog so a
// front end that connects late can replay what it missed. Subscribers that
// stop draining their channel are dropped rather than blocking publishers.
type Hub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Notification
	subs    map[int]chan Notification
	nextSub int
	onDrop  func()
}

// NewHub creates a hub retaining up to limit notifications. onDrop, if set,
// is invoked once per dropped subscriber.
func NewHub(limit int, onDrop func()) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit:  limit,
		subs:   make(map[int]chan Notification),
		onDrop: onDrop,
	}
}

func (h *Hub) Publish(kind string, payload any) Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	n := Notification{
		Seq:       h.nextSeq,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	h.history = append(h.history, n)
	if len(h.history) > h.limit {
		h.history = append([]Notification(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- n:
		default:
			close(ch)
			delete(h.subs, id)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}

	return n
}

// Subscribe returns the backlog newer than fromSeq, a live channel, and a
// cancel function. Cancelling twice is safe.
func (h *Hub) Subscribe(fromSeq int64) ([]Notification, <-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]Notification, 0)
	for _, n := range h.history {
		if n.Seq > fromSeq {
			replay = append(replay, n)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Notification, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *Hub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
