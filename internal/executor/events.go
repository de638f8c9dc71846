package executor

import (
	"sync"
	"time"
)

// EventKind classifies one pipeline moment.
type EventKind string

// Execution event kinds.
const (
	EventSignalReceived  EventKind = "signal_received"
	EventOrderBuilt      EventKind = "order_built"
	EventRiskChecked     EventKind = "risk_checked"
	EventSubmitted       EventKind = "submitted"
	EventPartiallyFilled EventKind = "partially_filled"
	EventFilled          EventKind = "filled"
	EventCancelled       EventKind = "cancelled"
	EventRejected        EventKind = "rejected"
	EventBracketPlaced   EventKind = "bracket_placed"
	EventTimeout         EventKind = "timeout"
	EventError           EventKind = "error"
)

// ExecutionEvent is one recorded pipeline moment.
type ExecutionEvent struct {
	Kind      EventKind `json:"kind"`
	SignalID  string    `json:"signal_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// eventRing is a bounded execution-event history. Oldest entries are
// overwritten once the ring is full.
type eventRing struct {
	mu     sync.Mutex
	events []ExecutionEvent
	next   int
	filled bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{events: make([]ExecutionEvent, size)}
}

func (r *eventRing) add(ev ExecutionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = ev
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.filled = true
	}
}

// snapshot returns the recorded events, oldest first.
func (r *eventRing) snapshot() []ExecutionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]ExecutionEvent, r.next)
		copy(out, r.events[:r.next])
		return out
	}
	out := make([]ExecutionEvent, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}

// keyedLocks hands out one mutex per key, created on first use. Keys are
// never evicted; the universe of traded symbols is small.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the key's mutex and returns its unlock function.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = new(sync.Mutex)
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
