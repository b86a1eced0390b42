package wallet

import (
	"database/sql"
	"time"

	"talktime-service/internal/domain/period"
)

type Kind string

const (
	// KindUser holds money/talk time a user paid for.
	KindUser Kind = "user"
	// KindEarning holds money owed to a user (referral and earning credits).
	KindEarning Kind = "earning"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Wallet is a ledger head: the balance column is a materialized view over
// the recharge and deduction rows, recomputed inside the same transaction
// as every append. It is never written independently.
type Wallet struct {
	ID       int64  `json:"id" db:"id"`
	UserID   int64  `json:"user_id" db:"user_id"`
	Kind     Kind   `json:"kind" db:"kind"`
	Currency string `json:"currency" db:"currency"`
	// Balance in minor units; derived, see above.
	Balance int64 `json:"balance" db:"balance"`
	// Minutes of talk time remaining; derived the same way.
	Minutes   int64     `json:"minutes" db:"minutes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Recharge is one ledger credit. Money recharges carry the paid amount;
// talk-time recharges carry minutes. Only recharges whose embedded payment
// reached success count toward the balance.
type Recharge struct {
	ID        int64                `json:"id" db:"id"`
	WalletID  int64                `json:"wallet_id" db:"wallet_id"`
	Ref       string               `json:"ref" db:"ref"`
	Amount    int64                `json:"amount" db:"amount"`
	Minutes   int64                `json:"minutes" db:"minutes"`
	Payment   period.PaymentRecord `json:"payment"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
}

// Deduction is one ledger debit.
type Deduction struct {
	ID        int64          `json:"id" db:"id"`
	WalletID  int64          `json:"wallet_id" db:"wallet_id"`
	Ref       string         `json:"ref" db:"ref"`
	Amount    int64          `json:"amount" db:"amount"`
	Minutes   int64          `json:"minutes" db:"minutes"`
	Reason    string         `json:"reason" db:"reason"`
	Reference sql.NullString `json:"reference,omitempty" db:"reference"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// WithdrawalRequest asks to pay out earning-wallet money. At most one pending
// request per user; the sum of non-rejected requests inside a rolling 24h
// window is capped.
type WithdrawalRequest struct {
	ID              int64            `json:"id" db:"id"`
	UserID          int64            `json:"user_id" db:"user_id"`
	Amount          int64            `json:"amount" db:"amount"`
	Status          WithdrawalStatus `json:"status" db:"status"`
	RequestedAt     time.Time        `json:"requested_at" db:"requested_at"`
	ProcessedAt     sql.NullTime     `json:"processed_at,omitempty" db:"processed_at"`
	RejectionReason sql.NullString   `json:"rejection_reason,omitempty" db:"rejection_reason"`
}
