package models

// BookingStatus is the booking lifecycle state.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
	BookingRefunded  BookingStatus = "refunded"
	BookingNoShow    BookingStatus = "no_show"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingNoShow, BookingCancelled},
	BookingCancelled: {BookingRefunded},
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled, BookingRefunded, BookingNoShow:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// HoldsSpots reports whether a booking in this state counts against slot capacity.
func (s BookingStatus) HoldsSpots() bool {
	return s == BookingPending || s == BookingConfirmed
}

// PaymentStatus is the local view of a provider charge.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// A failed intent can still succeed later: providers allow retrying the same
// intent with another payment method.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentRefunded},
	PaymentProcessing: {PaymentCompleted, PaymentFailed, PaymentRefunded},
	PaymentFailed:     {PaymentProcessing, PaymentCompleted, PaymentRefunded},
	PaymentCompleted:  {PaymentRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SlotStatus is the state of an availability slot.
type SlotStatus string

const (
	SlotOpen      SlotStatus = "open"
	SlotFull      SlotStatus = "full"
	SlotCancelled SlotStatus = "cancelled"
)

// Bookable reports whether the slot accepts reservations at all. A full slot
// is still bookable in this sense: the ledger rejects it on capacity.
func (s SlotStatus) Bookable() bool {
	return s == SlotOpen || s == SlotFull
}
