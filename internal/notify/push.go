// Package notify delivers best-effort push notifications. Sends happen
// outside any database transaction; a failed send is logged and never fails
// the operation that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pusher delivers one message to one registered device.
type Pusher interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// TokenLookup resolves a user's registered device token.
type TokenLookup interface {
	DeviceToken(ctx context.Context, userID int64) (string, error)
}

// HTTPPusher posts FCM-style payloads to a push endpoint with a server key.
type HTTPPusher struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

func NewHTTPPusher(endpoint, serverKey string) *HTTPPusher {
	return &HTTPPusher{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPPusher) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	payload := map[string]interface{}{
		"to": deviceToken,
		"notification": map[string]string{
			"title": title,
			"body":  body,
		},
	}
	if len(data) > 0 {
		payload["data"] = data
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Service fans a message out to a user's device. Lookup misses (no registered
// device) are not errors worth surfacing.
type Service struct {
	pusher Pusher
	tokens TokenLookup
	logger *zap.Logger
}

func NewService(pusher Pusher, tokens TokenLookup, logger *zap.Logger) *Service {
	return &Service{pusher: pusher, tokens: tokens, logger: logger}
}

// NotifyUser sends a push to the user's registered device, best effort.
func (s *Service) NotifyUser(ctx context.Context, userID int64, title, body string, data map[string]string) {
	token, err := s.tokens.DeviceToken(ctx, userID)
	if err != nil || token == "" {
		s.logger.Debug("no device token for user", zap.Int64("user_id", userID))
		return
	}
	if err := s.pusher.Send(ctx, token, title, body, data); err != nil {
		s.logger.Warn("push notification failed",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}
