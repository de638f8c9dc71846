package ordermgr

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/seaquant/tradeflow/pkg/models"
)

// Callback receives lifecycle events. The order is a snapshot owned by the
// callback; mutating it has no effect on tracked state.
type Callback func(order *models.Order, event Event)

// subscription pairs a callback with the events it wants. An empty filter
// receives everything.
type subscription struct {
	id     int
	events map[Event]bool
	fn     Callback
}

func (s *subscription) wants(event Event) bool {
	return len(s.events) == 0 || s.events[event]
}

type dispatchItem struct {
	order     *models.Order
	event     Event
	callbacks []Callback
}

// orderDispatcher serialises callback delivery for a single order. Events
// for different orders run concurrently, events for the same order arrive
// in the sequence they were recorded.
type orderDispatcher struct {
	mu      sync.Mutex
	pending []dispatchItem
	running bool
}

func (d *orderDispatcher) enqueue(item dispatchItem, log zerolog.Logger) {
	d.mu.Lock()
	d.pending = append(d.pending, item)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.drain(log)
}

func (d *orderDispatcher) drain(log zerolog.Logger) {
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		item := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()

		for _, cb := range item.callbacks {
			safeInvoke(cb, item.order, item.event, log)
		}
	}
}

// safeInvoke runs one callback and swallows its panic. A broken listener
// must not take the submit path down with it.
func safeInvoke(cb Callback, order *models.Order, event Event, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("order_id", order.ID).
				Str("event", string(event)).
				Msg("order callback panicked")
		}
	}()
	cb(order, event)
}
