package ordermgr

import (
	"time"

	"github.com/seaquant/tradeflow/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Status Transition Matrix
// ════════════════════════════════════════════════════════════════════

// allowedTransitions is the order lifecycle. Statuses absent from the map
// are terminal and allow nothing.
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPendingNew: {
		models.StatusNew,
		models.StatusRejected,
		models.StatusCancelled,
	},
	models.StatusNew: {
		models.StatusPartiallyFilled,
		models.StatusFilled,
		models.StatusPendingCancel,
		models.StatusCancelled,
		models.StatusExpired,
		models.StatusReplaced,
	},
	models.StatusPartiallyFilled: {
		models.StatusPartiallyFilled,
		models.StatusFilled,
		models.StatusPendingCancel,
		models.StatusCancelled,
	},
	models.StatusPendingCancel: {
		models.StatusCancelled,
		models.StatusFilled,
		models.StatusPartiallyFilled,
	},
}

// CanTransition reports whether the matrix allows from → to.
func CanTransition(from, to models.OrderStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ════════════════════════════════════════════════════════════════════
// Events
// ════════════════════════════════════════════════════════════════════

// Event names a lifecycle moment delivered to callbacks.
type Event string

// Event taxonomy.
const (
	EventCreated         Event = "created"
	EventSubmitted       Event = "submitted"
	EventAccepted        Event = "accepted"
	EventRejected        Event = "rejected"
	EventPartiallyFilled Event = "partially_filled"
	EventFilled          Event = "filled"
	EventPendingCancel   Event = "pending_cancel"
	EventCancelled       Event = "cancelled"
	EventReplaced        Event = "replaced"
	EventExpired         Event = "expired"
	EventError           Event = "error"
)

// eventForStatus maps a broker-reported status to its lifecycle event.
func eventForStatus(status models.OrderStatus) Event {
	switch status {
	case models.StatusPendingNew:
		return EventCreated
	case models.StatusNew:
		return EventAccepted
	case models.StatusPartiallyFilled:
		return EventPartiallyFilled
	case models.StatusFilled:
		return EventFilled
	case models.StatusPendingCancel:
		return EventPendingCancel
	case models.StatusCancelled:
		return EventCancelled
	case models.StatusRejected:
		return EventRejected
	case models.StatusExpired:
		return EventExpired
	case models.StatusReplaced:
		return EventReplaced
	default:
		return EventError
	}
}

// HistoryEntry is one recorded lifecycle moment.
type HistoryEntry struct {
	OrderID   string             `json:"order_id"`
	Symbol    string             `json:"symbol"`
	Event     Event              `json:"event"`
	Status    models.OrderStatus `json:"status"`
	Detail    string             `json:"detail,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
