package payment

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/gateway"
	"talktime-service/internal/service/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "whsec_test"

type fakeReconciler struct {
	reconcileErr error
	lastInput    reconciler.ReconcileInput
	calls        int
}

func (f *fakeReconciler) Reconcile(ctx context.Context, in reconciler.ReconcileInput) (*reconciler.Result, error) {
	f.calls++
	f.lastInput = in
	if f.reconcileErr != nil {
		return nil, f.reconcileErr
	}
	return &reconciler.Result{Status: period.PaymentSuccess, Message: "ok"}, nil
}

func (f *fakeReconciler) CreateOrder(ctx context.Context, in reconciler.CreateOrderInput) (*reconciler.OrderResult, error) {
	return &reconciler.OrderResult{OrderID: "order_1"}, nil
}

func newWebhookRequest(t *testing.T, body []byte, sign bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if sign {
		req.Header.Set("X-Webhook-Signature", gateway.ComputeSignature(body, testSecret))
	}
	return req
}

func serveWebhook(rec *fakeReconciler, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	h := NewPaymentHandler(rec, testSecret, zap.NewNop())
	r := gin.New()
	r.POST("/webhook", h.Webhook)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var validBody = []byte(`{
	"event": "payment.captured",
	"txn_id": "pay_1",
	"order_id": "order_1",
	"amount": 30000,
	"notes": {"user_id": "7", "plan_id": "1", "base_amount": "30000"}
}`)

func TestWebhookReconciles(t *testing.T) {
	rec := &fakeReconciler{}

	w := serveWebhook(rec, newWebhookRequest(t, validBody, true))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, rec.calls)
	assert.Equal(t, "pay_1", rec.lastInput.GatewayTxnID)
	assert.Equal(t, int64(7), rec.lastInput.UserID)
	assert.Equal(t, int64(1), rec.lastInput.PlanID)
	assert.Equal(t, reconciler.SourceWebhook, rec.lastInput.Source)
}

func TestWebhookAcknowledgesReconcileFailure(t *testing.T) {
	// A verified, parseable callback is always acknowledged: a non-2xx would
	// make the gateway hammer an endpoint that will keep failing, and the
	// transaction is recovered by verify or poll instead.
	rec := &fakeReconciler{reconcileErr: errors.New("database down")}

	w := serveWebhook(rec, newWebhookRequest(t, validBody, true))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rec.calls)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	rec := &fakeReconciler{}

	w := serveWebhook(rec, newWebhookRequest(t, validBody, false))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, rec.calls)
}

func TestWebhookAcknowledgesUnusableMetadata(t *testing.T) {
	// Missing user_id cannot improve on retry, so it is acknowledged too.
	body := []byte(`{"event": "payment.captured", "txn_id": "pay_1", "notes": {}}`)
	rec := &fakeReconciler{}

	w := serveWebhook(rec, newWebhookRequest(t, body, true))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, rec.calls)
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	body := []byte("not json")
	rec := &fakeReconciler{}

	w := serveWebhook(rec, newWebhookRequest(t, body, true))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, rec.calls)
}
