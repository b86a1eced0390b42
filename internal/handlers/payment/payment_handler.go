// internal/handlers/payment/payment_handler.go
package payment

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"talktime-service/internal/gateway"
	"talktime-service/internal/middleware"
	xerrors "talktime-service/internal/pkg/errors"
	"talktime-service/internal/pkg/response"
	"talktime-service/internal/service/reconciler"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Reconciler is the payment-application dependency.
type Reconciler interface {
	Reconcile(ctx context.Context, in reconciler.ReconcileInput) (*reconciler.Result, error)
	CreateOrder(ctx context.Context, in reconciler.CreateOrderInput) (*reconciler.OrderResult, error)
}

type PaymentHandler struct {
	reconciler    Reconciler
	webhookSecret string
	logger        *zap.Logger
}

func NewPaymentHandler(rec Reconciler, webhookSecret string, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		reconciler:    rec,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

type createOrderRequest struct {
	PlanID     int64  `json:"plan_id"`
	Amount     int64  `json:"amount"`
	CouponCode string `json:"coupon_code"`
}

type verifyRequest struct {
	GatewayTxnID string `json:"gateway_txn_id" binding:"required"`
	OrderID      string `json:"order_id"`
	PlanID       int64  `json:"plan_id"`
	Amount       int64  `json:"amount"`
	CouponCode   string `json:"coupon_code"`
}

// CreateOrder registers a gateway order for a plan purchase or wallet top-up
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if req.PlanID == 0 && req.Amount <= 0 {
		response.Error(c, http.StatusBadRequest, "either plan_id or a positive amount is required", nil)
		return
	}

	result, err := h.reconciler.CreateOrder(c.Request.Context(), reconciler.CreateOrderInput{
		UserID:     userID,
		PlanID:     req.PlanID,
		Amount:     req.Amount,
		CouponCode: req.CouponCode,
		IsStaff:    middleware.IsStaff(c),
	})
	if err != nil {
		if rej, ok := xerrors.AsCouponRejection(err); ok {
			response.Error(c, http.StatusUnprocessableEntity, "coupon rejected", nil, gin.H{
				"code":   rej.Code,
				"reason": rej.Reason,
			})
			return
		}
		response.Error(c, http.StatusBadGateway, "failed to create order", err)
		return
	}

	response.Success(c, http.StatusCreated, "order created", result)
}

// Verify reconciles a payment the client claims to have completed
func (h *PaymentHandler) Verify(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), reconciler.ReconcileInput{
		GatewayTxnID: req.GatewayTxnID,
		OrderID:      req.OrderID,
		UserID:       userID,
		PlanID:       req.PlanID,
		Amount:       req.Amount,
		CouponCode:   req.CouponCode,
		IsStaff:      middleware.IsStaff(c),
		Source:       reconciler.SourceVerify,
	})
	if err != nil {
		response.Error(c, http.StatusBadGateway, "failed to verify payment", err)
		return
	}

	response.Success(c, http.StatusOK, "payment reconciled", result)
}

// Webhook receives gateway callbacks. The signature covers the raw body and
// is checked before any parsing. Once the payload verifies and parses, the
// endpoint acknowledges with 200 no matter what: any non-2xx makes the
// gateway retry, and a reconcile failure is resolved by a later verify or
// poll, not by a retry storm.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "failed to read body", err)
		return
	}

	signature := c.GetHeader("X-Webhook-Signature")
	if !gateway.VerifySignature(body, signature, h.webhookSecret) {
		h.logger.Warn("webhook signature mismatch", zap.String("client_ip", c.ClientIP()))
		response.Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	ev, err := gateway.ParseWebhook(body)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "malformed webhook payload", err)
		return
	}

	in, err := inputFromEvent(ev)
	if err != nil {
		// Unusable metadata will not improve on retry; acknowledge and log.
		h.logger.Error("webhook with unusable metadata",
			zap.String("txn_id", ev.GatewayTxnID),
			zap.Error(err),
		)
		response.Success(c, http.StatusOK, "ignored", nil)
		return
	}

	result, err := h.reconciler.Reconcile(c.Request.Context(), in)
	if err != nil {
		h.logger.Error("webhook reconcile failed",
			zap.String("txn_id", ev.GatewayTxnID),
			zap.Error(err),
		)
		response.Success(c, http.StatusOK, "accepted", nil)
		return
	}

	response.Success(c, http.StatusOK, "ok", result)
}

// inputFromEvent rebuilds the reconcile input from the order metadata echoed
// back in the webhook notes.
func inputFromEvent(ev *gateway.WebhookEvent) (reconciler.ReconcileInput, error) {
	in := reconciler.ReconcileInput{
		GatewayTxnID: ev.GatewayTxnID,
		OrderID:      ev.OrderID,
		CouponCode:   ev.Notes["coupon"],
		Source:       reconciler.SourceWebhook,
	}

	userID, err := strconv.ParseInt(ev.Notes["user_id"], 10, 64)
	if err != nil || userID == 0 {
		return in, xerrors.Wrap(xerrors.ErrInvalidInput, "missing user_id note")
	}
	in.UserID = userID

	if v := ev.Notes["plan_id"]; v != "" {
		planID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return in, xerrors.Wrap(xerrors.ErrInvalidInput, "malformed plan_id note")
		}
		in.PlanID = planID
	}
	if v := ev.Notes["base_amount"]; v != "" {
		amount, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return in, xerrors.Wrap(xerrors.ErrInvalidInput, "malformed base_amount note")
		}
		in.Amount = amount
	}

	return in, nil
}
