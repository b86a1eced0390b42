// Package reconciler turns a payment-gateway verdict into an exactly-once
// update of the user's subscription period or wallet ledger. Webhook,
// client-initiated verify and manual poll all funnel into Reconcile with
// identical semantics; the gateway transaction id is the idempotency key.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/domain/plan"
	"talktime-service/internal/domain/wallet"
	"talktime-service/internal/gateway"
	xerrors "talktime-service/internal/pkg/errors"
	"talktime-service/internal/pkg/ref"
	couponsvc "talktime-service/internal/service/coupon"
	"talktime-service/internal/service/scheduler"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const gatewayTimeout = 10 * time.Second

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceVerify  Source = "client_verify"
	SourcePoll    Source = "poll"
)

// Repos and collaborators (interfaces to allow mocking).
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type PeriodRepo interface {
	FindByGatewayTxnID(ctx context.Context, txnID string) (*period.SubscriptionPeriod, error)
	FindByGatewayTxnIDWithTx(ctx context.Context, tx pgx.Tx, txnID string) (*period.SubscriptionPeriod, error)
	FindPendingByOrderIDWithTx(ctx context.Context, tx pgx.Tx, orderID string) (*period.SubscriptionPeriod, error)
	CreateWithTx(ctx context.Context, tx pgx.Tx, p *period.SubscriptionPeriod) error
	UpdatePaymentWithTx(ctx context.Context, tx pgx.Tx, p *period.SubscriptionPeriod) error
}

type PlanRepo interface {
	FindByID(ctx context.Context, id int64) (*plan.Plan, error)
}

type Scheduler interface {
	Decide(ctx context.Context, tx pgx.Tx, userID int64, length plan.HalfDays) (*scheduler.Placement, error)
}

type CouponEvaluator interface {
	Evaluate(ctx context.Context, tx pgx.Tx, in couponsvc.EvaluateInput) (*couponsvc.Outcome, error)
	Commit(ctx context.Context, tx pgx.Tx, out *couponsvc.Outcome, userID int64, gatewayTxnID string) error
}

type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, userID int64, kind wallet.Kind, rec *wallet.Recharge) error
	RechargeByGatewayTxn(ctx context.Context, tx pgx.Tx, txnID string) (*wallet.Recharge, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, title, body string, data map[string]string)
}

type Service struct {
	db       TxRunner
	periods  PeriodRepo
	plans    PlanRepo
	sched    Scheduler
	coupons  CouponEvaluator
	ledger   Ledger
	gw       gateway.Client
	notifier Notifier
	currency string
	logger   *zap.Logger
}

func NewService(
	db TxRunner,
	periods PeriodRepo,
	plans PlanRepo,
	sched Scheduler,
	coupons CouponEvaluator,
	ledger Ledger,
	gw gateway.Client,
	notifier Notifier,
	currency string,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:       db,
		periods:  periods,
		plans:    plans,
		sched:    sched,
		coupons:  coupons,
		ledger:   ledger,
		gw:       gw,
		notifier: notifier,
		currency: currency,
		logger:   logger,
	}
}

type ReconcileInput struct {
	GatewayTxnID string
	OrderID      string
	UserID       int64
	// PlanID zero means a cash wallet recharge of Amount minor units.
	PlanID     int64
	Amount     int64
	CouponCode string
	IsStaff    bool
	Source     Source
}

type Result struct {
	Status    period.PaymentStatus `json:"status"`
	Duplicate bool                 `json:"duplicate"`
	Message   string               `json:"message"`

	Period          *period.SubscriptionPeriod `json:"period,omitempty"`
	CreditedAmount  int64                      `json:"credited_amount,omitempty"`
	CreditedMinutes int64                      `json:"credited_minutes,omitempty"`
	DiscountAmount  int64                      `json:"discount_amount,omitempty"`
	BonusDays       float64                    `json:"bonus_days,omitempty"`
	BonusMinutes    int64                      `json:"bonus_minutes,omitempty"`
}

// Reconcile applies one gateway transaction exactly once. It is safe to call
// any number of times, from any trigger: the first call that observes a
// successful payment mutates state, every later call short-circuits to the
// stored result.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (*Result, error) {
	if in.GatewayTxnID == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "missing gateway transaction id")
	}

	// Cheap pre-check: if this transaction was already applied, skip the
	// gateway round trip entirely. The authoritative check repeats inside
	// the transaction.
	if existing, err := s.periods.FindByGatewayTxnID(ctx, in.GatewayTxnID); err == nil &&
		existing.Payment.Status == period.PaymentSuccess {
		return s.duplicateResult(existing), nil
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	st, err := s.gw.GetStatus(gctx, in.GatewayTxnID)
	if err != nil {
		// Nothing written; retryable at the caller's discretion.
		return nil, err
	}

	var result *Result
	err = s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		result, txErr = s.apply(ctx, tx, in, st)
		return txErr
	})
	if err != nil {
		if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			// Lost the insert race; the winner's row is the result. Wallet
			// credits live on the recharge ledger, so probe both sides.
			if existing, ferr := s.periods.FindByGatewayTxnID(ctx, in.GatewayTxnID); ferr == nil {
				return s.duplicateResult(existing), nil
			}
			if rec := s.rechargeByTxn(ctx, in.GatewayTxnID); rec != nil &&
				rec.Payment.Status == period.PaymentSuccess {
				return &Result{
					Status:          period.PaymentSuccess,
					Duplicate:       true,
					Message:         "payment already applied",
					CreditedAmount:  rec.Amount,
					CreditedMinutes: rec.Minutes,
				}, nil
			}
		}
		s.logger.Error("reconcile failed",
			zap.String("gateway_txn_id", in.GatewayTxnID),
			zap.String("source", string(in.Source)),
			zap.Error(err),
		)
		return nil, err
	}

	if !result.Duplicate {
		s.notify(ctx, in.UserID, result)
	}
	return result, nil
}

// rechargeByTxn runs the ledger probe in its own short transaction; the
// repository query is tx-scoped.
func (s *Service) rechargeByTxn(ctx context.Context, txnID string) *wallet.Recharge {
	var rec *wallet.Recharge
	err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		var e error
		rec, e = s.ledger.RechargeByGatewayTxn(ctx, tx, txnID)
		return e
	})
	if err != nil {
		return nil
	}
	return rec
}

// apply holds the atomic boundary: idempotency check, scheduling, ledger
// mutation, coupon spend and payment-status write all commit or roll back
// together.
func (s *Service) apply(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status) (*Result, error) {
	if existing, err := s.periods.FindByGatewayTxnIDWithTx(ctx, tx, in.GatewayTxnID); err == nil &&
		existing.Payment.Status == period.PaymentSuccess {
		return s.duplicateResult(existing), nil
	}
	if rec, err := s.ledger.RechargeByGatewayTxn(ctx, tx, in.GatewayTxnID); err == nil &&
		rec.Payment.Status == period.PaymentSuccess {
		return &Result{
			Status:          period.PaymentSuccess,
			Duplicate:       true,
			Message:         "payment already applied",
			CreditedAmount:  rec.Amount,
			CreditedMinutes: rec.Minutes,
		}, nil
	}

	if in.PlanID == 0 {
		return s.applyCashRecharge(ctx, tx, in, st)
	}
	return s.applyPlanPurchase(ctx, tx, in, st)
}

func (s *Service) applyPlanPurchase(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status) (*Result, error) {
	p, err := s.plans.FindByID(ctx, in.PlanID)
	if err != nil {
		return nil, fmt.Errorf("plan %d not found: %w", in.PlanID, err)
	}

	switch st.State {
	case gateway.StateSuccess:
		if p.PricingType == plan.PricingPlatform {
			return s.applySubscription(ctx, tx, in, st, p)
		}
		return s.applyTalkTime(ctx, tx, in, st, p)
	case gateway.StateFailed:
		return s.recordPlanVerdict(ctx, tx, in, st, p, period.StatusFailed, period.PaymentFailed, "payment failed")
	default:
		return s.recordPlanVerdict(ctx, tx, in, st, p, period.StatusProcessing, period.PaymentPending, "payment pending")
	}
}

// applySubscription places and persists a validity period for a platform plan.
func (s *Service) applySubscription(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status, p *plan.Plan) (*Result, error) {
	length := p.ValidityHalfDays()

	outcome := s.evaluateCoupon(ctx, tx, in, couponsvc.KindDays, int64(length), p)
	if outcome != nil {
		length += outcome.BonusHalfDays
	}

	placement, err := s.sched.Decide(ctx, tx, in.UserID, length)
	if err != nil {
		return nil, err
	}

	row, err := s.planRow(ctx, tx, in, st, p)
	if err != nil {
		return nil, err
	}
	row.Status = placement.Status
	row.StartDate = placement.Start
	row.EndDate = placement.End
	row.Payment.Status = period.PaymentSuccess
	row.Payment.GatewayTxnID = in.GatewayTxnID
	row.Payment.RawPayload = st.RawPayload
	if outcome != nil {
		row.CouponCode = sql.NullString{String: outcome.Coupon.Code, Valid: true}
	}

	if err := s.persistPlanRow(ctx, tx, row); err != nil {
		return nil, err
	}

	if outcome != nil {
		if err := s.coupons.Commit(ctx, tx, outcome, in.UserID, in.GatewayTxnID); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Status:  period.PaymentSuccess,
		Message: "subscription " + string(placement.Status),
		Period:  row,
	}
	if outcome != nil {
		result.BonusDays = outcome.BonusHalfDays.Days()
	}
	return result, nil
}

// applyTalkTime credits the wallet with a call/chat plan's talk minutes.
func (s *Service) applyTalkTime(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status, p *plan.Plan) (*Result, error) {
	minutes := p.TalkMinutes

	outcome := s.evaluateCoupon(ctx, tx, in, couponsvc.KindMinutes, p.TalkMinutes, p)
	if outcome != nil {
		minutes += outcome.BonusMinutes
	}

	rec := &wallet.Recharge{
		Ref:     ref.New("RCH"),
		Amount:  st.Amount,
		Minutes: minutes,
		Payment: period.PaymentRecord{
			Gateway:      s.gw.Name(),
			GatewayTxnID: in.GatewayTxnID,
			OrderID:      in.OrderID,
			Amount:       st.Amount,
			Currency:     s.currency,
			Status:       period.PaymentSuccess,
			RawPayload:   st.RawPayload,
		},
	}
	if err := s.ledger.Credit(ctx, tx, in.UserID, wallet.KindUser, rec); err != nil {
		return nil, err
	}

	if outcome != nil {
		if err := s.coupons.Commit(ctx, tx, outcome, in.UserID, in.GatewayTxnID); err != nil {
			return nil, err
		}
	}

	result := &Result{
		Status:          period.PaymentSuccess,
		Message:         "talk time credited",
		CreditedAmount:  st.Amount,
		CreditedMinutes: minutes,
	}
	if outcome != nil {
		result.BonusMinutes = outcome.BonusMinutes
	}
	return result, nil
}

// applyCashRecharge credits a money top-up. The coupon (money kind) was
// already reflected in the amount charged at order time; the usage record is
// committed now that the payment succeeded. Non-success verdicts persist as
// ledger rows too: the balance recompute only counts success, and a pending
// row settles in place when the transaction is reconciled again.
func (s *Service) applyCashRecharge(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status) (*Result, error) {
	base := in.Amount
	if base == 0 {
		base = st.Amount
	}

	if st.State != gateway.StateSuccess {
		status := period.PaymentPending
		msg := "payment pending"
		if st.State == gateway.StateFailed {
			status = period.PaymentFailed
			msg = "payment failed"
		}

		rec := &wallet.Recharge{
			Ref:    ref.New("RCH"),
			Amount: base,
			Payment: period.PaymentRecord{
				Gateway:      s.gw.Name(),
				GatewayTxnID: in.GatewayTxnID,
				OrderID:      in.OrderID,
				Amount:       st.Amount,
				Currency:     s.currency,
				Status:       status,
				RawPayload:   st.RawPayload,
			},
		}
		if err := s.ledger.Credit(ctx, tx, in.UserID, wallet.KindUser, rec); err != nil {
			return nil, err
		}
		return &Result{Status: status, Message: msg}, nil
	}

	var discount int64
	outcome := s.evaluateCoupon(ctx, tx, in, couponsvc.KindMoney, base, nil)
	if outcome != nil {
		discount = outcome.DiscountAmount
	}

	rec := &wallet.Recharge{
		Ref:    ref.New("RCH"),
		Amount: base,
		Payment: period.PaymentRecord{
			Gateway:      s.gw.Name(),
			GatewayTxnID: in.GatewayTxnID,
			OrderID:      in.OrderID,
			Amount:       st.Amount,
			Currency:     s.currency,
			Status:       period.PaymentSuccess,
			RawPayload:   st.RawPayload,
		},
	}
	if err := s.ledger.Credit(ctx, tx, in.UserID, wallet.KindUser, rec); err != nil {
		return nil, err
	}

	if outcome != nil {
		if err := s.coupons.Commit(ctx, tx, outcome, in.UserID, in.GatewayTxnID); err != nil {
			return nil, err
		}
	}

	return &Result{
		Status:         period.PaymentSuccess,
		Message:        "wallet recharged",
		CreditedAmount: base,
		DiscountAmount: discount,
	}, nil
}

// evaluateCoupon runs the evaluator fail-open: a rejection is logged and the
// purchase proceeds without the coupon. Hard errors also fail open: the
// payment has already been taken, losing a discount beats losing the credit.
func (s *Service) evaluateCoupon(ctx context.Context, tx pgx.Tx, in ReconcileInput, kind couponsvc.QuantityKind, base int64, p *plan.Plan) *couponsvc.Outcome {
	if in.CouponCode == "" {
		return nil
	}

	ein := couponsvc.EvaluateInput{
		Code:        in.CouponCode,
		UserID:      in.UserID,
		IsStaff:     in.IsStaff,
		PricingType: "recharge",
		Kind:        kind,
		BaseAmount:  base,
		Plan:        p,
	}
	if p != nil {
		ein.PricingType = string(p.PricingType)
		ein.PricingID = p.ID
	}

	outcome, err := s.coupons.Evaluate(ctx, tx, ein)
	if err != nil {
		if rej, ok := xerrors.AsCouponRejection(err); ok {
			s.logger.Warn("coupon rejected, proceeding without it",
				zap.String("code", rej.Code),
				zap.String("reason", string(rej.Reason)),
				zap.String("gateway_txn_id", in.GatewayTxnID),
			)
		} else {
			s.logger.Error("coupon evaluation failed, proceeding without it",
				zap.String("code", in.CouponCode),
				zap.String("gateway_txn_id", in.GatewayTxnID),
				zap.Error(err),
			)
		}
		return nil
	}
	return outcome
}

// recordPlanVerdict persists a non-success gateway verdict. No ledger or
// coupon effect.
func (s *Service) recordPlanVerdict(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status, p *plan.Plan, status period.Status, pay period.PaymentStatus, msg string) (*Result, error) {
	row, err := s.planRow(ctx, tx, in, st, p)
	if err != nil {
		return nil, err
	}
	row.Status = status
	row.Payment.Status = pay
	row.Payment.GatewayTxnID = in.GatewayTxnID
	row.Payment.RawPayload = st.RawPayload

	if err := s.persistPlanRow(ctx, tx, row); err != nil {
		return nil, err
	}

	result := &Result{Status: pay, Message: msg}
	if p.PricingType == plan.PricingPlatform {
		result.Period = row
	}
	return result, nil
}

// planRow finds the row this transaction should land on: an earlier verdict
// row carrying the same txn id (a pending seen before must settle in place,
// never insert a second row against the unique index), then the placeholder
// created at order time, then a fresh row.
func (s *Service) planRow(ctx context.Context, tx pgx.Tx, in ReconcileInput, st *gateway.Status, p *plan.Plan) (*period.SubscriptionPeriod, error) {
	if row, err := s.periods.FindByGatewayTxnIDWithTx(ctx, tx, in.GatewayTxnID); err == nil {
		return row, nil
	} else if !xerrors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	if in.OrderID != "" {
		if row, err := s.periods.FindPendingByOrderIDWithTx(ctx, tx, in.OrderID); err == nil {
			return row, nil
		} else if !xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now()
	return &period.SubscriptionPeriod{
		UserID:    in.UserID,
		PlanID:    p.ID,
		Status:    period.StatusPending,
		StartDate: now,
		EndDate:   now,
		Payment: period.PaymentRecord{
			Gateway:  s.gw.Name(),
			OrderID:  in.OrderID,
			Amount:   st.Amount,
			Currency: s.currency,
			Status:   period.PaymentPending,
		},
	}, nil
}

func (s *Service) persistPlanRow(ctx context.Context, tx pgx.Tx, row *period.SubscriptionPeriod) error {
	if row.ID == 0 {
		return s.periods.CreateWithTx(ctx, tx, row)
	}
	return s.periods.UpdatePaymentWithTx(ctx, tx, row)
}

func (s *Service) duplicateResult(p *period.SubscriptionPeriod) *Result {
	return &Result{
		Status:    p.Payment.Status,
		Duplicate: true,
		Message:   "payment already applied",
		Period:    p,
	}
}

func (s *Service) notify(ctx context.Context, userID int64, result *Result) {
	var title, body string
	switch result.Status {
	case period.PaymentSuccess:
		title = "Payment successful"
		body = result.Message
	case period.PaymentFailed:
		title = "Payment failed"
		body = "Your payment could not be completed. No amount was deducted from your account balance."
	default:
		title = "Payment processing"
		body = "We are confirming your payment. You will be notified shortly."
	}

	s.notifier.NotifyUser(ctx, userID, title, body, map[string]string{
		"status": string(result.Status),
	})
}

// ========== Order creation ==========

type CreateOrderInput struct {
	UserID int64
	// PlanID zero means a cash wallet top-up of Amount minor units.
	PlanID     int64
	Amount     int64
	CouponCode string
	IsStaff    bool
}

type OrderResult struct {
	OrderID        string `json:"order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	DiscountAmount int64  `json:"discount_amount,omitempty"`
}

// CreateOrder registers a gateway order for a plan purchase or cash top-up.
// Money coupons discount the amount charged here; time-shaped coupons are
// applied at reconcile. A platform-plan order also writes a pending
// placeholder row so the webhook can correlate by order id.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderResult, error) {
	var base int64
	var p *plan.Plan

	if in.PlanID != 0 {
		var err error
		p, err = s.plans.FindByID(ctx, in.PlanID)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "plan is not active")
		}
		base = p.Price
	} else {
		if in.Amount <= 0 {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "recharge amount must be positive")
		}
		base = in.Amount
	}

	payable := base
	var discount int64
	if in.CouponCode != "" {
		ein := couponsvc.EvaluateInput{
			Code:        in.CouponCode,
			UserID:      in.UserID,
			IsStaff:     in.IsStaff,
			PricingType: "recharge",
			Kind:        couponsvc.KindMoney,
			BaseAmount:  base,
			Plan:        p,
		}
		if p != nil {
			ein.PricingType = string(p.PricingType)
			ein.PricingID = p.ID
		}
		outcome, err := s.coupons.Evaluate(ctx, nil, ein)
		if err != nil {
			// Order creation is interactive: surface the rejection so the
			// user can fix or drop the code.
			return nil, err
		}
		discount = outcome.DiscountAmount
		payable = outcome.PayableAmount(base)
	}

	receipt := gateway.TruncateReceipt(ref.New("ORD"))

	metadata := map[string]string{
		"user_id":     strconv.FormatInt(in.UserID, 10),
		"base_amount": strconv.FormatInt(base, 10),
	}
	if in.PlanID != 0 {
		metadata["plan_id"] = strconv.FormatInt(in.PlanID, 10)
	}
	if in.CouponCode != "" {
		metadata["coupon"] = in.CouponCode
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	order, err := s.gw.CreateOrder(gctx, gateway.CreateOrderInput{
		Amount:   payable,
		Currency: s.currency,
		Receipt:  receipt,
		Metadata: metadata,
	})
	if err != nil {
		return nil, err
	}

	if p != nil && p.PricingType == plan.PricingPlatform {
		now := time.Now()
		row := &period.SubscriptionPeriod{
			UserID:    in.UserID,
			PlanID:    p.ID,
			Status:    period.StatusPending,
			StartDate: now,
			EndDate:   now,
			Payment: period.PaymentRecord{
				Gateway:  s.gw.Name(),
				OrderID:  order.OrderID,
				Amount:   payable,
				Currency: s.currency,
				Status:   period.PaymentPending,
			},
		}
		if in.CouponCode != "" {
			row.CouponCode = sql.NullString{String: in.CouponCode, Valid: true}
		}
		if err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
			return s.periods.CreateWithTx(ctx, tx, row)
		}); err != nil {
			s.logger.Warn("failed to persist pending order placeholder",
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("gateway order created",
		zap.Int64("user_id", in.UserID),
		zap.Int64("plan_id", in.PlanID),
		zap.String("order_id", order.OrderID),
		zap.Int64("amount", payable),
		zap.Int64("discount", discount),
	)

	return &OrderResult{
		OrderID:        order.OrderID,
		Amount:         payable,
		Currency:       s.currency,
		Receipt:        receipt,
		DiscountAmount: discount,
	}, nil
}
