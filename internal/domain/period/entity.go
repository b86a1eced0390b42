package period

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusActive     Status = "active"
	StatusQueued     Status = "queued"
	StatusExpired    Status = "expired"
	StatusFailed     Status = "failed"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentRecord is the gateway-side view of one payment attempt, embedded in
// the period (or wallet recharge) it paid for. GatewayTxnID is the
// idempotency key: unique among successful applications.
type PaymentRecord struct {
	Gateway      string        `json:"gateway" db:"gateway"`
	GatewayTxnID string        `json:"gateway_txn_id" db:"gateway_txn_id"`
	OrderID      string        `json:"order_id" db:"order_id"`
	Amount       int64         `json:"amount" db:"amount"` // minor units
	Currency     string        `json:"currency" db:"currency"`
	Status       PaymentStatus `json:"status" db:"status"`
	RawPayload   []byte        `json:"-" db:"raw_payload"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// SubscriptionPeriod is one purchased validity interval for a user. At most
// one period per user is active with end > now; a purchase made while one is
// active is created queued, chained off the latest queued end.
type SubscriptionPeriod struct {
	ID     int64  `json:"id" db:"id"`
	UserID int64  `json:"user_id" db:"user_id"`
	PlanID int64  `json:"plan_id" db:"plan_id"`
	Status Status `json:"status" db:"status"`

	StartDate time.Time `json:"start_date" db:"start_date"`
	EndDate   time.Time `json:"end_date" db:"end_date"`

	Payment    PaymentRecord  `json:"payment"`
	CouponCode sql.NullString `json:"coupon_code,omitempty" db:"coupon_code"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Current reports whether the period still has future coverage at t.
func (p *SubscriptionPeriod) Current(t time.Time) bool {
	return (p.Status == StatusActive || p.Status == StatusQueued) && p.EndDate.After(t)
}
