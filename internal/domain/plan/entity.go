package plan

import (
	"math"
	"time"
)

type PricingType string

const (
	PricingChat     PricingType = "chat"
	PricingCall     PricingType = "call"
	PricingPlatform PricingType = "platform"
)

// HalfDays is a day count with half-day resolution. All day-denominated
// coupon outcomes are rounded to the nearest half day, so half days are the
// smallest unit of validity arithmetic.
type HalfDays int64

// HalfDaysFromDays rounds a fractional day count to the nearest half day.
func HalfDaysFromDays(d float64) HalfDays {
	return HalfDays(math.Round(d * 2))
}

func (h HalfDays) Days() float64 { return float64(h) / 2 }

func (h HalfDays) Duration() time.Duration {
	return time.Duration(h) * 12 * time.Hour
}

// Plan is a read-only catalog entry: what a product costs and what it grants.
// Platform plans grant validity days; chat/call plans grant talk time.
type Plan struct {
	ID           int64       `json:"id" db:"id"`
	PricingType  PricingType `json:"pricing_type" db:"pricing_type"`
	Name         string      `json:"name" db:"name"`
	Price        int64       `json:"price" db:"price"` // minor units
	Currency     string      `json:"currency" db:"currency"`
	ValidityDays int         `json:"validity_days" db:"validity_days"`
	TalkMinutes  int64       `json:"talk_minutes" db:"talk_minutes"`
	IsActive     bool        `json:"is_active" db:"is_active"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// ValidityHalfDays is the plan's validity expressed in half days.
func (p *Plan) ValidityHalfDays() HalfDays {
	return HalfDays(p.ValidityDays) * 2
}

// DailyRate is the plan's price per validity day in minor units. Zero when
// the plan has no validity component.
func (p *Plan) DailyRate() float64 {
	if p.ValidityDays <= 0 {
		return 0
	}
	return float64(p.Price) / float64(p.ValidityDays)
}

// MinuteRate is the plan's price per talk minute in minor units. Zero when
// the plan has no talk-time component.
func (p *Plan) MinuteRate() float64 {
	if p.TalkMinutes <= 0 {
		return 0
	}
	return float64(p.Price) / float64(p.TalkMinutes)
}
