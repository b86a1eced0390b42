package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ComputeSignature computes the hex HMAC-SHA256 of a raw webhook body.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature header against the raw request
// body in constant time. Verification happens before any JSON parsing.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := ComputeSignature(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookEvent is the parsed shape of an inbound gateway callback.
type WebhookEvent struct {
	Event        string            `json:"event"`
	GatewayTxnID string            `json:"txn_id"`
	OrderID      string            `json:"order_id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	OccurredAt   time.Time         `json:"occurred_at"`
	Notes        map[string]string `json:"notes"`
	Raw          json.RawMessage   `json:"-"`
}

// ParseWebhook decodes a verified webhook body. The raw body is retained for
// the payment record's audit payload.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	ev.Raw = append([]byte(nil), body...)
	return &ev, nil
}
