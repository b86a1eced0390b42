package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	xerrors "talktime-service/internal/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// HTTPClient talks to the gateway's REST API with basic-auth key/secret.
type HTTPClient struct {
	baseURL   string
	keyID     string
	keySecret string
	name      string
	client    *http.Client
}

func NewHTTPClient(name, baseURL, keyID, keySecret string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		name:      name,
		client:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *HTTPClient) Name() string { return c.name }

// CreateOrder registers a payment order with the gateway.
func (c *HTTPClient) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	payload := map[string]interface{}{
		"amount":   in.Amount,
		"currency": in.Currency,
		"receipt":  TruncateReceipt(in.Receipt),
	}
	if len(in.Metadata) > 0 {
		payload["notes"] = in.Metadata
	}

	var out struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders", payload, &out); err != nil {
		return nil, err
	}

	return &Order{OrderID: out.ID, Amount: out.Amount, Currency: out.Currency}, nil
}

// GetStatus fetches the authoritative state of one payment attempt and maps
// it onto the internal taxonomy.
func (c *HTTPClient) GetStatus(ctx context.Context, txnID string) (*Status, error) {
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	}
	raw, err := c.doRaw(ctx, http.MethodGet, "/payments/"+txnID, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &xerrors.GatewayError{Op: "get_status", Retryable: false, Err: err}
	}

	return &Status{
		TxnID:      out.ID,
		State:      mapState(out.Status),
		Amount:     out.Amount,
		RawPayload: raw,
	}, nil
}

// mapState folds gateway-specific payment states onto {pending, success, failed}.
func mapState(s string) State {
	switch s {
	case "captured", "paid", "success", "successful":
		return StateSuccess
	case "failed", "cancelled", "refunded":
		return StateFailed
	default:
		return StatePending
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &xerrors.GatewayError{Op: path, Retryable: false, Err: err}
	}
	return nil
}

func (c *HTTPClient) doRaw(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport faults and timeouts are retryable: nothing was written
		// on our side and reconciliation is idempotent.
		return nil, &xerrors.GatewayError{Op: path, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &xerrors.GatewayError{Op: path, Retryable: true, Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &xerrors.GatewayError{Op: path, Retryable: true, Err: fmt.Errorf("gateway returned %d: %s", resp.StatusCode, raw)}
	}
	if resp.StatusCode >= 400 {
		return nil, &xerrors.GatewayError{Op: path, Retryable: false, Err: fmt.Errorf("gateway returned %d: %s", resp.StatusCode, raw)}
	}

	return raw, nil
}
