package coupon

import (
	"database/sql"
	"strings"
	"time"
)

type DiscountKind string

const (
	KindPercentage  DiscountKind = "percentage"
	KindFixedAmount DiscountKind = "fixed_amount"
	KindFreeDays    DiscountKind = "free_days"
)

// Coupon is an operator-created promotional code. It is never deleted;
// retiring a coupon flips is_active off. CurrentUses only ever moves up,
// and only after the underlying payment succeeded.
type Coupon struct {
	ID           int64        `json:"id" db:"id"`
	Code         string       `json:"code" db:"code"`
	Kind         DiscountKind `json:"kind" db:"kind"`
	// Value is percent points for percentage, minor currency units for
	// fixed_amount, whole days for free_days.
	Value int64 `json:"value" db:"value"`

	ValidFrom  time.Time `json:"valid_from" db:"valid_from"`
	ValidUntil time.Time `json:"valid_until" db:"valid_until"`

	MaxUses        sql.NullInt32 `json:"max_uses,omitempty" db:"max_uses"`
	CurrentUses    int           `json:"current_uses" db:"current_uses"`
	MaxUsesPerUser int           `json:"max_uses_per_user" db:"max_uses_per_user"`
	Reusable       bool          `json:"reusable" db:"reusable"`
	StaffOnly      bool          `json:"staff_only" db:"staff_only"`

	// MinAmount is the minimum qualifying purchase in minor units; only
	// meaningful for money-denominated purchases.
	MinAmount int64 `json:"min_amount" db:"min_amount"`

	// Empty allow-lists mean "allow all".
	PricingTypes   []string `json:"pricing_types" db:"pricing_types"`
	PricingIDs     []int64  `json:"pricing_ids" db:"pricing_ids"`
	PaymentMethods []string `json:"payment_methods" db:"payment_methods"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeCode canonicalizes a coupon code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Usable reports whether the coupon can still be applied at t: active, inside
// its window, and under the global cap.
func (c *Coupon) Usable(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if t.Before(c.ValidFrom) || !t.Before(c.ValidUntil) {
		return false
	}
	if c.MaxUses.Valid && c.CurrentUses >= int(c.MaxUses.Int32) {
		return false
	}
	return true
}

// AppliesTo checks the (pricing type, pricing id, payment method) allow-lists.
func (c *Coupon) AppliesTo(pricingType string, pricingID int64, paymentMethod string) bool {
	if len(c.PricingTypes) > 0 {
		found := false
		for _, pt := range c.PricingTypes {
			if pt == pricingType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.PricingIDs) > 0 {
		found := false
		for _, id := range c.PricingIDs {
			if id == pricingID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.PaymentMethods) > 0 && paymentMethod != "" {
		found := false
		for _, pm := range c.PaymentMethods {
			if pm == paymentMethod {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Usage is the immutable audit record of one successful application. Exactly
// one of DiscountAmount, DiscountHalfDays, DiscountMinutes is non-zero,
// recording the discount actually granted rather than the nominal value.
type Usage struct {
	ID               int64     `json:"id" db:"id"`
	CouponID         int64     `json:"coupon_id" db:"coupon_id"`
	UserID           int64     `json:"user_id" db:"user_id"`
	GatewayTxnID     string    `json:"gateway_txn_id" db:"gateway_txn_id"`
	DiscountAmount   int64     `json:"discount_amount" db:"discount_amount"`
	DiscountHalfDays int64     `json:"discount_half_days" db:"discount_half_days"`
	DiscountMinutes  int64     `json:"discount_minutes" db:"discount_minutes"`
	AppliedAt        time.Time `json:"applied_at" db:"applied_at"`
}
