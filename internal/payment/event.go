package payment

import (
	"encoding/json"
	"time"

	"slotbook/internal/domain"
)

const (
	EventIntentSucceeded  = "payment_intent.succeeded"
	EventIntentFailed     = "payment_intent.payment_failed"
	EventIntentProcessing = "payment_intent.processing"
	EventChargeRefunded   = "charge.refunded"
)

// Event is a provider webhook delivery. Amounts are in provider units.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

type EventData struct {
	IntentID      string `json:"intent_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	FailureReason string `json:"failure_reason,omitempty"`
	RefundAmount  int64  `json:"refund_amount,omitempty"`
	RefundID      string `json:"refund_id,omitempty"`
}

func (e *Event) CreatedAt() time.Time {
	if e.Created == 0 {
		return time.Time{}
	}
	return time.Unix(e.Created, 0).UTC()
}

// ParseEvent decodes a webhook body. Payment events must name an intent.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, domain.Validationf("decode webhook event: %v", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, domain.Validationf("webhook event without id or type")
	}
	switch ev.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentProcessing, EventChargeRefunded:
		if ev.Data.IntentID == "" {
			return nil, domain.Validationf("event %s has no intent id", ev.ID)
		}
	}
	return &ev, nil
}
