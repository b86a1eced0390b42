package coupon

import (
	"context"
	"fmt"
	"math"
	"time"

	"talktime-service/internal/domain/coupon"
	"talktime-service/internal/domain/plan"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// QuantityKind is the axis a discount applies to.
type QuantityKind string

const (
	KindMoney   QuantityKind = "money"   // minor currency units
	KindDays    QuantityKind = "days"    // half-day units
	KindMinutes QuantityKind = "minutes" // talk-time minutes
)

// Repos required by the service (interfaces to allow mocking).
type CouponRepo interface {
	Create(ctx context.Context, c *coupon.Coupon) error
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	FindByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*coupon.Coupon, error)
	IncrementUsesWithTx(ctx context.Context, tx pgx.Tx, id int64) error
	Disable(ctx context.Context, code string) error
	List(ctx context.Context, filters *coupon.ListFilters) ([]coupon.Coupon, int64, error)
}

type UsageRepo interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, u *coupon.Usage) error
	CountByCouponAndUser(ctx context.Context, couponID, userID int64) (int, error)
	CountByCouponAndUserWithTx(ctx context.Context, tx pgx.Tx, couponID, userID int64) (int, error)
	ListByCoupon(ctx context.Context, couponID int64, limit int) ([]coupon.Usage, error)
}

type PlanRepo interface {
	FindByID(ctx context.Context, id int64) (*plan.Plan, error)
}

type Service struct {
	coupons CouponRepo
	usages  UsageRepo
	plans   PlanRepo
	logger  *zap.Logger
}

func NewService(coupons CouponRepo, usages UsageRepo, plans PlanRepo, logger *zap.Logger) *Service {
	return &Service{coupons: coupons, usages: usages, plans: plans, logger: logger}
}

type EvaluateInput struct {
	Code          string
	UserID        int64
	IsStaff       bool
	PricingType   string
	PricingID     int64
	PaymentMethod string
	Kind          QuantityKind
	// BaseAmount is in the unit of Kind: minor units, half-days, or minutes.
	BaseAmount int64
	// Plan supplies the daily/minute rate for fixed-amount conversion.
	// Nil for cash recharges.
	Plan *plan.Plan
}

// Outcome is a validated discount. Money discounts subtract from the amount
// payable; day and minute bonuses extend the grant.
type Outcome struct {
	Coupon         *coupon.Coupon
	DiscountAmount int64
	BonusHalfDays  plan.HalfDays
	BonusMinutes   int64
}

// PayableAmount applies a money discount to a base price.
func (o *Outcome) PayableAmount(base int64) int64 {
	final := base - o.DiscountAmount
	if final < 0 {
		final = 0
	}
	return final
}

// Evaluate validates a coupon against a purchase context and computes the
// discount. First failure wins; rejections are *xerrors.CouponRejection so a
// caller may choose to proceed without the coupon, logging the reason.
// Evaluate never mutates current_uses; that happens in Commit, only after
// the payment succeeded. When tx is non-nil the coupon row is read under
// FOR UPDATE so the later Commit cannot race past the global cap.
func (s *Service) Evaluate(ctx context.Context, tx pgx.Tx, in EvaluateInput) (*Outcome, error) {
	code := coupon.NormalizeCode(in.Code)

	var c *coupon.Coupon
	var err error
	if tx != nil {
		c, err = s.coupons.FindByCodeForUpdate(ctx, tx, code)
	} else {
		c, err = s.coupons.FindByCode(ctx, code)
	}
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.RejectCoupon(code, xerrors.CouponNotFound)
		}
		return nil, fmt.Errorf("coupon lookup failed: %w", err)
	}

	now := time.Now()

	if !c.IsActive || now.Before(c.ValidFrom) {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponInactive)
	}
	if !now.Before(c.ValidUntil) {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponExpired)
	}
	if c.MaxUses.Valid && c.CurrentUses >= int(c.MaxUses.Int32) {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponCapReached)
	}

	if c.StaffOnly && !in.IsStaff {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponStaffOnly)
	}

	var used int
	if tx != nil {
		used, err = s.usages.CountByCouponAndUserWithTx(ctx, tx, c.ID, in.UserID)
	} else {
		used, err = s.usages.CountByCouponAndUser(ctx, c.ID, in.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("coupon usage lookup failed: %w", err)
	}
	if !c.Reusable && used > 0 {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponAlreadyUsed)
	}
	if c.Reusable && c.MaxUsesPerUser > 0 && used >= c.MaxUsesPerUser {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponUserCapLimit)
	}

	if in.Kind == KindMoney && c.MinAmount > 0 && in.BaseAmount < c.MinAmount {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponBelowMinimum)
	}

	if !c.AppliesTo(in.PricingType, in.PricingID, in.PaymentMethod) {
		return nil, xerrors.RejectCoupon(code, xerrors.CouponNotApplicable)
	}

	out := &Outcome{Coupon: c}
	switch c.Kind {
	case coupon.KindPercentage:
		switch in.Kind {
		case KindMoney:
			d := in.BaseAmount * c.Value / 100
			if d > in.BaseAmount {
				d = in.BaseAmount
			}
			out.DiscountAmount = d
		case KindDays:
			// Time discounts extend rather than reduce.
			days := plan.HalfDays(in.BaseAmount).Days() * float64(c.Value) / 100
			out.BonusHalfDays = plan.HalfDaysFromDays(days)
		case KindMinutes:
			out.BonusMinutes = int64(math.Round(float64(in.BaseAmount) * float64(c.Value) / 100))
		}
	case coupon.KindFixedAmount:
		switch in.Kind {
		case KindMoney:
			d := c.Value
			if d > in.BaseAmount {
				d = in.BaseAmount
			}
			out.DiscountAmount = d
		case KindDays:
			// Convert the monetary value via the plan's daily rate.
			if in.Plan == nil || in.Plan.DailyRate() <= 0 {
				return nil, xerrors.RejectCoupon(code, xerrors.CouponNotApplicable)
			}
			out.BonusHalfDays = plan.HalfDaysFromDays(float64(c.Value) / in.Plan.DailyRate())
		case KindMinutes:
			if in.Plan == nil || in.Plan.MinuteRate() <= 0 {
				return nil, xerrors.RejectCoupon(code, xerrors.CouponNotApplicable)
			}
			out.BonusMinutes = int64(math.Round(float64(c.Value) / in.Plan.MinuteRate()))
		}
	case coupon.KindFreeDays:
		// Additional validity days regardless of quantity kind.
		out.BonusHalfDays = plan.HalfDays(c.Value) * 2
	}

	return out, nil
}

// Commit spends the coupon: bumps the usage counter and writes the audit
// record. Called only inside the reconcile transaction, only after the
// gateway confirmed the payment succeeded.
func (s *Service) Commit(ctx context.Context, tx pgx.Tx, out *Outcome, userID int64, gatewayTxnID string) error {
	if err := s.coupons.IncrementUsesWithTx(ctx, tx, out.Coupon.ID); err != nil {
		return fmt.Errorf("failed to spend coupon %s: %w", out.Coupon.Code, err)
	}

	usage := &coupon.Usage{
		CouponID:         out.Coupon.ID,
		UserID:           userID,
		GatewayTxnID:     gatewayTxnID,
		DiscountAmount:   out.DiscountAmount,
		DiscountHalfDays: int64(out.BonusHalfDays),
		DiscountMinutes:  out.BonusMinutes,
	}
	if err := s.usages.InsertWithTx(ctx, tx, usage); err != nil {
		return err
	}

	s.logger.Info("coupon applied",
		zap.String("code", out.Coupon.Code),
		zap.Int64("user_id", userID),
		zap.String("gateway_txn_id", gatewayTxnID),
		zap.Int64("discount_amount", out.DiscountAmount),
		zap.Float64("bonus_days", out.BonusHalfDays.Days()),
		zap.Int64("bonus_minutes", out.BonusMinutes),
	)
	return nil
}

// ========== Operator lifecycle ==========

// CreateCoupon creates an operator coupon from a validated request.
func (s *Service) CreateCoupon(ctx context.Context, req *coupon.CreateCouponRequest) (*coupon.Coupon, error) {
	from, until, err := req.ParseWindow(time.Now())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "invalid validity window")
	}
	if !until.After(from) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "valid_until must be after valid_from")
	}
	if coupon.DiscountKind(req.Kind) == coupon.KindPercentage && req.Value > 100 {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "percentage value above 100")
	}

	c := &coupon.Coupon{
		Code:           coupon.NormalizeCode(req.Code),
		Kind:           coupon.DiscountKind(req.Kind),
		Value:          req.Value,
		ValidFrom:      from,
		ValidUntil:     until,
		MaxUsesPerUser: req.MaxUsesPerUser,
		Reusable:       req.Reusable,
		StaffOnly:      req.StaffOnly,
		MinAmount:      req.MinAmount,
		PricingTypes:   req.PricingTypes,
		PricingIDs:     req.PricingIDs,
		PaymentMethods: req.PaymentMethods,
		IsActive:       true,
	}
	if req.MaxUses != nil {
		c.MaxUses.Int32 = *req.MaxUses
		c.MaxUses.Valid = true
	}

	if err := s.coupons.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("coupon created",
		zap.String("code", c.Code),
		zap.String("kind", string(c.Kind)),
		zap.Int64("value", c.Value),
	)
	return c, nil
}

// ListCoupons retrieves coupons with filters.
func (s *Service) ListCoupons(ctx context.Context, filters *coupon.ListFilters) (*coupon.ListResponse, error) {
	coupons, total, err := s.coupons.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	return &coupon.ListResponse{
		Coupons:  coupons,
		Total:    total,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	}, nil
}

// DisableCoupon soft-retires a coupon.
func (s *Service) DisableCoupon(ctx context.Context, code string) error {
	if err := s.coupons.Disable(ctx, code); err != nil {
		return err
	}
	s.logger.Info("coupon disabled", zap.String("code", coupon.NormalizeCode(code)))
	return nil
}

// ========== Preview ==========

// Preview dry-runs a coupon against a plan without touching usage counters.
// It answers the checkout screen's question: what would this code be worth?
func (s *Service) Preview(ctx context.Context, userID int64, isStaff bool, req *coupon.PreviewRequest) (*coupon.PreviewResponse, error) {
	p, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	in := EvaluateInput{
		Code:          req.Code,
		UserID:        userID,
		IsStaff:       isStaff,
		PricingType:   string(p.PricingType),
		PricingID:     p.ID,
		PaymentMethod: req.PaymentMethod,
		Plan:          p,
	}
	switch p.PricingType {
	case plan.PricingPlatform:
		in.Kind = KindDays
		in.BaseAmount = int64(p.ValidityHalfDays())
	default:
		in.Kind = KindMinutes
		in.BaseAmount = p.TalkMinutes
	}

	out, err := s.Evaluate(ctx, nil, in)
	if err != nil {
		return nil, err
	}

	return &coupon.PreviewResponse{
		Code:           out.Coupon.Code,
		DiscountAmount: out.DiscountAmount,
		BonusDays:      out.BonusHalfDays.Days(),
		BonusMinutes:   out.BonusMinutes,
		PayableAmount:  out.PayableAmount(p.Price),
	}, nil
}

// ListUsages retrieves the most recent usage records for one coupon.
func (s *Service) ListUsages(ctx context.Context, code string, limit int) ([]coupon.Usage, error) {
	c, err := s.coupons.FindByCode(ctx, coupon.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.usages.ListByCoupon(ctx, c.ID, limit)
}
