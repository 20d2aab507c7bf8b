package models

import (
	"fmt"
	"strings"
	"time"
)

// Currency is an ISO 4217 code supported for pricing.
type Currency string

const (
	CurrencyIDR Currency = "IDR"
	CurrencyUSD Currency = "USD"
)

// ParseCurrency normalizes s and reports whether it is supported.
func ParseCurrency(s string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyIDR, CurrencyUSD:
		return c, true
	}
	return "", false
}

// MinorUnitExponent is the number of decimal places stored for amounts in c.
// Rupiah is stored in whole units, dollars in cents.
func (c Currency) MinorUnitExponent() int32 {
	if c == CurrencyUSD {
		return 2
	}
	return 0
}

// PriceSet holds one price in every supported currency, in minor units.
type PriceSet struct {
	IDR int64 `yaml:"idr" json:"idr"`
	USD int64 `yaml:"usd" json:"usd"`
}

func (p PriceSet) For(c Currency) int64 {
	if c == CurrencyUSD {
		return p.USD
	}
	return p.IDR
}

type CancellationPolicy string

const (
	PolicyFlexible CancellationPolicy = "flexible"
	PolicyModerate CancellationPolicy = "moderate"
	PolicyStrict   CancellationPolicy = "strict"
)

func (p CancellationPolicy) Valid() bool {
	_, ok := RefundRules[p]
	return ok
}

// Activity is read-only here; content management owns it.
type Activity struct {
	ID                 string             `yaml:"id" json:"id"`
	Name               string             `yaml:"name" json:"name"`
	AdultPrice         PriceSet           `yaml:"adult_price" json:"adult_price"`
	ChildPrice         *PriceSet          `yaml:"child_price" json:"child_price,omitempty"`
	MaxGroupSize       int                `yaml:"max_group_size" json:"max_group_size"`
	InstantBooking     bool               `yaml:"instant_booking" json:"instant_booking"`
	CancellationPolicy CancellationPolicy `yaml:"cancellation_policy" json:"cancellation_policy"`
	CreatedAt          time.Time          `yaml:"-" json:"created_at"`
	UpdatedAt          time.Time          `yaml:"-" json:"updated_at"`
}

// Availability is one bookable slot of an activity.
type Availability struct {
	ID                 string     `yaml:"id" json:"id"`
	ActivityID         string     `yaml:"activity_id" json:"activity_id"`
	Date               string     `yaml:"date" json:"date"`
	StartTime          string     `yaml:"start_time" json:"start_time"`
	EndTime            string     `yaml:"end_time" json:"end_time"`
	TotalSpots         int        `yaml:"total_spots" json:"total_spots"`
	AvailableSpots     int        `yaml:"available_spots" json:"available_spots"`
	Status             SlotStatus `yaml:"status" json:"status"`
	AdultPriceOverride *PriceSet  `yaml:"adult_price_override" json:"adult_price_override,omitempty"`
	ChildPriceOverride *PriceSet  `yaml:"child_price_override" json:"child_price_override,omitempty"`
	CreatedAt          time.Time  `yaml:"-" json:"created_at"`
	UpdatedAt          time.Time  `yaml:"-" json:"updated_at"`
}

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// StartsAt resolves the slot's local date and start time in loc.
func (a *Availability) StartsAt(loc *time.Location) (time.Time, error) {
	clock := a.StartTime
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.ParseInLocation(DateLayout+" "+ClockLayout, a.Date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot start %q %q: %w", a.Date, a.StartTime, err)
	}
	return t, nil
}
