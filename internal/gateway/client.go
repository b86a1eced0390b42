// Package gateway defines the payment-gateway boundary the reconciler
// consumes: order creation, authoritative status lookup, and webhook
// signature verification. The concrete HTTP client lives beside the
// interface so handlers and tests can substitute doubles.
package gateway

import (
	"context"
	"encoding/json"
)

type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// ReceiptMaxLen is the gateway-imposed length limit on idempotency receipts.
// Callers truncate deterministically.
const ReceiptMaxLen = 40

type CreateOrderInput struct {
	Amount   int64  // minor units
	Currency string
	Receipt  string
	Metadata map[string]string
}

type Order struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Status struct {
	TxnID      string          `json:"txn_id"`
	State      State           `json:"state"`
	Amount     int64           `json:"amount"`
	RawPayload json.RawMessage `json:"raw_payload"`
}

// Client is the injected gateway dependency. Both calls are bounded by the
// request context; a timeout leaves no state behind and is safe to retry.
type Client interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
	GetStatus(ctx context.Context, txnID string) (*Status, error)
	Name() string
}

// TruncateReceipt enforces ReceiptMaxLen deterministically.
func TruncateReceipt(receipt string) string {
	if len(receipt) > ReceiptMaxLen {
		return receipt[:ReceiptMaxLen]
	}
	return receipt
}
