package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event types
const (
	EventSessionReady       = "session.ready"
	EventSessionEstablished = "session.established"
	EventSessionEnded       = "session.ended"
	EventCartMerged         = "cart.merged"
	EventOrderPlaced        = "order.placed"
)

// Event represents something that happened to the session or the cart
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes events
type EventHandler func(event Event)

// EventDispatcher delivers events synchronously to subscribers in
// subscription order.
type EventDispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers []subscription
}

type subscription struct {
	id      int
	handler EventHandler
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

// Subscribe registers a handler for all events and returns a function that
// removes it.
func (d *EventDispatcher) Subscribe(handler EventHandler) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.handlers = append(d.handlers, subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.handlers {
				if s.id == id {
					d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish dispatches an event to all registered handlers. Handlers run
// without the dispatcher lock held, so they may subscribe or publish.
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	handlers := make([]EventHandler, len(d.handlers))
	for i, s := range d.handlers {
		handlers[i] = s.handler
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Len returns the number of subscribers
func (d *EventDispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// EndReason explains why a session ended
type EndReason string

const (
	EndReasonLogout  EndReason = "logout"
	EndReasonExpired EndReason = "expired"
)

// SessionReadyEvent is published once the startup token check completes
type SessionReadyEvent struct {
	BaseEvent
	Authenticated bool         `json:"authenticated"`
	User          *UserProfile `json:"user,omitempty"`
}

// NewSessionReadyEvent creates a new session ready event
func NewSessionReadyEvent(user *UserProfile) SessionReadyEvent {
	return SessionReadyEvent{
		BaseEvent:     NewBaseEvent(EventSessionReady),
		Authenticated: user != nil,
		User:          user.Clone(),
	}
}

// SessionEstablishedEvent is published after an interactive login or
// registration. Restoring a persisted session never produces one.
type SessionEstablishedEvent struct {
	BaseEvent
	User *UserProfile `json:"user"`
}

// NewSessionEstablishedEvent creates a new session established event
func NewSessionEstablishedEvent(user *UserProfile) SessionEstablishedEvent {
	return SessionEstablishedEvent{
		BaseEvent: NewBaseEvent(EventSessionEstablished),
		User:      user.Clone(),
	}
}

// SessionEndedEvent is published on logout or forced sign-out
type SessionEndedEvent struct {
	BaseEvent
	Reason EndReason `json:"reason"`
}

// NewSessionEndedEvent creates a new session ended event
func NewSessionEndedEvent(reason EndReason) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent: NewBaseEvent(EventSessionEnded),
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Cart Events
// -----------------------------------------------------------------------------

// CartMergedEvent is published after a guest cart merge attempt
type CartMergedEvent struct {
	BaseEvent
	Items int    `json:"items"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NewCartMergedEvent creates a new cart merged event
func NewCartMergedEvent(items int, err error) CartMergedEvent {
	e := CartMergedEvent{
		BaseEvent: NewBaseEvent(EventCartMerged),
		Items:     items,
		OK:        err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// OrderPlacedEvent is published after a successful checkout
type OrderPlacedEvent struct {
	BaseEvent
	OrderID string          `json:"order_id"`
	Items   int             `json:"items"`
	Total   decimal.Decimal `json:"total"`
}

// NewOrderPlacedEvent creates a new order placed event
func NewOrderPlacedEvent(orderID string, items int, total decimal.Decimal) OrderPlacedEvent {
	return OrderPlacedEvent{
		BaseEvent: NewBaseEvent(EventOrderPlaced),
		OrderID:   orderID,
		Items:     items,
		Total:     total,
	}
}
