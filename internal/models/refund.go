package models

import "time"

// RefundRule refunds Percent of the paid amount when the cancellation happens
// at least WindowHours before the slot starts, and nothing otherwise.
type RefundRule struct {
	WindowHours int
	Percent     int64
}

var RefundRules = map[CancellationPolicy]RefundRule{
	PolicyFlexible: {WindowHours: 24, Percent: 100},
	PolicyModerate: {WindowHours: 48, Percent: 100},
	PolicyStrict:   {WindowHours: 7 * 24, Percent: 50},
}

// RefundAmount returns the refundable part of paid for a cancellation at now.
// Partial refunds round down to the minor unit.
func (p CancellationPolicy) RefundAmount(paid int64, startsAt, now time.Time) int64 {
	rule, ok := RefundRules[p]
	if !ok || paid <= 0 {
		return 0
	}
	if startsAt.Sub(now) < time.Duration(rule.WindowHours)*time.Hour {
		return 0
	}
	return paid * rule.Percent / 100
}
