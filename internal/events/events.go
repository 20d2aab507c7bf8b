package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventBookingNoShow    = "booking.no_show"
	EventBookingRefunded  = "booking.refunded"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentRefunded  = "payment.refunded"

	// Wildcard subscribers receive every event type.
	Wildcard = "*"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID      string `json:"booking_id"`
	Reference      string `json:"reference"`
	ActivityID     string `json:"activity_id"`
	ActivityName   string `json:"activity_name,omitempty"`
	Date           string `json:"date,omitempty"`
	StartTime      string `json:"start_time,omitempty"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	Adults         int    `json:"adults"`
	Children       int    `json:"children"`
	TotalAmount    int64  `json:"total_amount"`
	Currency       string `json:"currency"`
	ContactName    string `json:"contact_name,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ChangedBy      string `json:"changed_by,omitempty"`
	ChangedByRole  string `json:"changed_by_role,omitempty"`
}

type PaymentEventPayload struct {
	PaymentID        string `json:"payment_id"`
	BookingID        string `json:"booking_id"`
	BookingReference string `json:"booking_reference,omitempty"`
	IntentID         string `json:"intent_id,omitempty"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	RefundAmount     int64  `json:"refund_amount,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type, or Wildcard.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handler errors are not
// propagated; handlers are expected to hand work off and return quickly.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[Wildcard]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	ev, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&ev)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}
