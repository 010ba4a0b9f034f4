package browser

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kpauljoseph/ankisnap/internal/selection"
)

// Page event types sent by the overlay script.
const (
	EventPointerDown = "down"
	EventPointerMove = "move"
	EventPointerUp   = "up"
	EventKey         = "key"
)

// PageEvent is one input event reported by the overlay, in CSS pixels.
type PageEvent struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Key  string  `json:"key,omitempty"`
}

func ParseEvent(payload string) (PageEvent, error) {
	var ev PageEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return PageEvent{}, fmt.Errorf("malformed page event: %w", err)
	}
	switch ev.Type {
	case EventPointerDown, EventPointerMove, EventPointerUp, EventKey:
		return ev, nil
	}
	return PageEvent{}, fmt.Errorf("unknown page event %q", ev.Type)
}

// Dispatch feeds a page event to a selection session.
func Dispatch(session *selection.Session, ev PageEvent) {
	switch ev.Type {
	case EventPointerDown:
		session.PointerDown(ev.X, ev.Y)
	case EventPointerMove:
		session.PointerMove(ev.X, ev.Y)
	case EventPointerUp:
		session.PointerUp(ev.X, ev.Y)
	case EventKey:
		session.KeyDown(ev.Key)
	}
}

// EventQueue buffers page events between the DevTools listener and the
// goroutine driving a session. Push never blocks and never drops pointer-up,
// pointer-down or key events; consecutive moves collapse into the latest one.
type EventQueue struct {
	mu      sync.Mutex
	pending []PageEvent
	ready   chan struct{}
}

func NewEventQueue() *EventQueue {
	return &EventQueue{ready: make(chan struct{}, 1)}
}

func (q *EventQueue) Push(ev PageEvent) {
	q.mu.Lock()
	if n := len(q.pending); ev.Type == EventPointerMove && n > 0 && q.pending[n-1].Type == EventPointerMove {
		q.pending[n-1] = ev
	} else {
		q.pending = append(q.pending, ev)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value whenever events may be waiting in Drain.
func (q *EventQueue) Ready() <-chan struct{} {
	return q.ready
}

// Drain returns the queued events in arrival order and empties the queue.
func (q *EventQueue) Drain() []PageEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}
