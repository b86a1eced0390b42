package coupon

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"talktime-service/internal/domain/coupon"
	"talktime-service/internal/domain/plan"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCouponRepo struct {
	coupons    map[string]*coupon.Coupon
	increments []int64
	created    []*coupon.Coupon
}

func (f *fakeCouponRepo) Create(ctx context.Context, c *coupon.Coupon) error {
	if _, ok := f.coupons[c.Code]; ok {
		return xerrors.ErrConflict
	}
	f.created = append(f.created, c)
	return nil
}

func (f *fakeCouponRepo) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, ok := f.coupons[code]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCouponRepo) FindByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*coupon.Coupon, error) {
	return f.FindByCode(ctx, code)
}

func (f *fakeCouponRepo) IncrementUsesWithTx(ctx context.Context, tx pgx.Tx, id int64) error {
	f.increments = append(f.increments, id)
	return nil
}

func (f *fakeCouponRepo) Disable(ctx context.Context, code string) error {
	c, ok := f.coupons[code]
	if !ok {
		return xerrors.ErrNotFound
	}
	c.IsActive = false
	return nil
}

func (f *fakeCouponRepo) List(ctx context.Context, filters *coupon.ListFilters) ([]coupon.Coupon, int64, error) {
	out := make([]coupon.Coupon, 0, len(f.coupons))
	for _, c := range f.coupons {
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

type fakeUsageRepo struct {
	counts   map[int64]int
	inserted []*coupon.Usage
}

func (f *fakeUsageRepo) InsertWithTx(ctx context.Context, tx pgx.Tx, u *coupon.Usage) error {
	f.inserted = append(f.inserted, u)
	return nil
}

func (f *fakeUsageRepo) CountByCouponAndUser(ctx context.Context, couponID, userID int64) (int, error) {
	return f.counts[couponID], nil
}

func (f *fakeUsageRepo) CountByCouponAndUserWithTx(ctx context.Context, tx pgx.Tx, couponID, userID int64) (int, error) {
	return f.counts[couponID], nil
}

func (f *fakeUsageRepo) ListByCoupon(ctx context.Context, couponID int64, limit int) ([]coupon.Usage, error) {
	out := make([]coupon.Usage, 0, len(f.inserted))
	for _, u := range f.inserted {
		if u.CouponID == couponID {
			out = append(out, *u)
		}
	}
	return out, nil
}

type fakePlanRepo struct {
	plans map[int64]*plan.Plan
}

func (f *fakePlanRepo) FindByID(ctx context.Context, id int64) (*plan.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return p, nil
}

func newTestService(coupons ...*coupon.Coupon) (*Service, *fakeCouponRepo, *fakeUsageRepo) {
	repo := &fakeCouponRepo{coupons: map[string]*coupon.Coupon{}}
	for _, c := range coupons {
		repo.coupons[c.Code] = c
	}
	usages := &fakeUsageRepo{counts: map[int64]int{}}
	plans := &fakePlanRepo{plans: map[int64]*plan.Plan{}}
	return NewService(repo, usages, plans, zap.NewNop()), repo, usages
}

func validCoupon() *coupon.Coupon {
	return &coupon.Coupon{
		ID:         1,
		Code:       "SAVE10",
		Kind:       coupon.KindPercentage,
		Value:      10,
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(24 * time.Hour),
		IsActive:   true,
	}
}

func TestEvaluatePercentageMoney(t *testing.T) {
	svc, _, _ := newTestService(validCoupon())

	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindMoney,
		BaseAmount: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out.DiscountAmount)
	assert.Equal(t, int64(9000), out.PayableAmount(10000))
	assert.Zero(t, out.BonusHalfDays)
	assert.Zero(t, out.BonusMinutes)
}

func TestEvaluateCodeNormalization(t *testing.T) {
	svc, _, _ := newTestService(validCoupon())

	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "  save10 ",
		UserID:     7,
		Kind:       KindMoney,
		BaseAmount: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", out.Coupon.Code)
}

func TestEvaluatePercentageDaysExtends(t *testing.T) {
	c := validCoupon()
	c.Value = 50
	svc, _, _ := newTestService(c)

	// 30-day plan: 50% extends by 15 days, it never shortens.
	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindDays,
		BaseAmount: 60, // half days
	})
	require.NoError(t, err)
	assert.Equal(t, plan.HalfDays(30), out.BonusHalfDays)
	assert.Equal(t, 15.0, out.BonusHalfDays.Days())
	assert.Zero(t, out.DiscountAmount)
}

func TestEvaluatePercentageMinutes(t *testing.T) {
	c := validCoupon()
	c.Value = 25
	svc, _, _ := newTestService(c)

	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindMinutes,
		BaseAmount: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(23), out.BonusMinutes) // round(22.5)
}

func TestEvaluateFixedAmountMoneyCappedAtBase(t *testing.T) {
	c := validCoupon()
	c.Kind = coupon.KindFixedAmount
	c.Value = 15000
	svc, _, _ := newTestService(c)

	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindMoney,
		BaseAmount: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), out.DiscountAmount)
	assert.Equal(t, int64(0), out.PayableAmount(10000))
}

func TestEvaluateFixedAmountDaysUsesDailyRate(t *testing.T) {
	c := validCoupon()
	c.Kind = coupon.KindFixedAmount
	c.Value = 2000
	svc, _, _ := newTestService(c)

	p := &plan.Plan{ID: 3, PricingType: plan.PricingPlatform, Price: 30000, ValidityDays: 30}

	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindDays,
		BaseAmount: 60,
		Plan:       p,
	})
	require.NoError(t, err)
	// 2000 at 1000/day = 2 days = 4 half days.
	assert.Equal(t, plan.HalfDays(4), out.BonusHalfDays)
}

func TestEvaluateFixedAmountDaysWithoutPlanRejected(t *testing.T) {
	c := validCoupon()
	c.Kind = coupon.KindFixedAmount
	c.Value = 2000
	svc, _, _ := newTestService(c)

	_, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindDays,
		BaseAmount: 60,
	})
	rej, ok := xerrors.AsCouponRejection(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.CouponNotApplicable, rej.Reason)
}

func TestEvaluateFreeDaysIgnoresQuantityKind(t *testing.T) {
	c := validCoupon()
	c.Kind = coupon.KindFreeDays
	c.Value = 3
	svc, _, _ := newTestService(c)

	for _, kind := range []QuantityKind{KindMoney, KindDays, KindMinutes} {
		out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
			Code:       "SAVE10",
			UserID:     7,
			Kind:       kind,
			BaseAmount: 10000,
		})
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, plan.HalfDays(6), out.BonusHalfDays, "kind %s", kind)
		assert.Zero(t, out.DiscountAmount, "kind %s", kind)
	}
}

func TestEvaluateRejectionOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeCouponRepo, *coupon.Coupon, *fakeUsageRepo)
		in     EvaluateInput
		reason xerrors.CouponReason
	}{
		{
			name: "unknown code",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) {
				delete(r.coupons, c.Code)
			},
			reason: xerrors.CouponNotFound,
		},
		{
			name:   "disabled",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { c.IsActive = false },
			reason: xerrors.CouponInactive,
		},
		{
			name:   "not yet valid",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { c.ValidFrom = time.Now().Add(time.Hour) },
			reason: xerrors.CouponInactive,
		},
		{
			name:   "expired",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { c.ValidUntil = time.Now().Add(-time.Minute) },
			reason: xerrors.CouponExpired,
		},
		{
			name: "global cap reached",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) {
				c.MaxUses = sql.NullInt32{Int32: 5, Valid: true}
				c.CurrentUses = 5
			},
			reason: xerrors.CouponCapReached,
		},
		{
			name:   "staff only",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { c.StaffOnly = true },
			reason: xerrors.CouponStaffOnly,
		},
		{
			name:   "single use spent",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { u.counts[c.ID] = 1 },
			reason: xerrors.CouponAlreadyUsed,
		},
		{
			name: "per-user cap reached",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) {
				c.Reusable = true
				c.MaxUsesPerUser = 2
				u.counts[c.ID] = 2
			},
			reason: xerrors.CouponUserCapLimit,
		},
		{
			name:   "below minimum",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { c.MinAmount = 50000 },
			in:     EvaluateInput{Kind: KindMoney, BaseAmount: 10000},
			reason: xerrors.CouponBelowMinimum,
		},
		{
			name:   "wrong pricing type",
			mutate: func(r *fakeCouponRepo, c *coupon.Coupon, u *fakeUsageRepo) { c.PricingTypes = []string{"call"} },
			in:     EvaluateInput{PricingType: "platform", Kind: KindMoney, BaseAmount: 10000},
			reason: xerrors.CouponNotApplicable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCoupon()
			svc, repoFake, usages := newTestService(c)
			tt.mutate(repoFake, c, usages)

			in := tt.in
			in.Code = "SAVE10"
			in.UserID = 7
			if in.Kind == "" {
				in.Kind = KindMoney
				in.BaseAmount = 10000
			}

			_, err := svc.Evaluate(context.Background(), nil, in)
			rej, ok := xerrors.AsCouponRejection(err)
			require.True(t, ok, "expected a coupon rejection, got %v", err)
			assert.Equal(t, tt.reason, rej.Reason)
		})
	}
}

func TestEvaluateMinAmountIgnoredForTimeKinds(t *testing.T) {
	c := validCoupon()
	c.MinAmount = 50000
	svc, _, _ := newTestService(c)

	// A days-denominated purchase is never measured against min_amount.
	// 10% of 60 half-days is 3 days, carried as 6 half-days.
	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindDays,
		BaseAmount: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, plan.HalfDays(6), out.BonusHalfDays)
}

func TestCommitRecordsUsage(t *testing.T) {
	c := validCoupon()
	svc, repo, usages := newTestService(c)

	out, err := svc.Evaluate(context.Background(), nil, EvaluateInput{
		Code:       "SAVE10",
		UserID:     7,
		Kind:       KindMoney,
		BaseAmount: 10000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Commit(context.Background(), nil, out, 7, "pay_123"))

	require.Equal(t, []int64{1}, repo.increments)
	require.Len(t, usages.inserted, 1)
	u := usages.inserted[0]
	assert.Equal(t, int64(7), u.UserID)
	assert.Equal(t, "pay_123", u.GatewayTxnID)
	assert.Equal(t, int64(1000), u.DiscountAmount)
	assert.Zero(t, u.DiscountHalfDays)
}

func TestCreateCouponValidation(t *testing.T) {
	svc, repo, _ := newTestService()

	_, err := svc.CreateCoupon(context.Background(), &coupon.CreateCouponRequest{
		Code:       "over",
		Kind:       "percentage",
		Value:      120,
		ValidUntil: time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = svc.CreateCoupon(context.Background(), &coupon.CreateCouponRequest{
		Code:       "backwards",
		Kind:       "fixed_amount",
		Value:      100,
		ValidFrom:  "2026-05-01",
		ValidUntil: "2026-04-01",
	})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	created, err := svc.CreateCoupon(context.Background(), &coupon.CreateCouponRequest{
		Code:       "new10",
		Kind:       "percentage",
		Value:      10,
		ValidUntil: time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, "NEW10", created.Code)
	assert.True(t, created.IsActive)
	require.Len(t, repo.created, 1)
}

func TestPreviewPlatformPlan(t *testing.T) {
	c := validCoupon()
	c.Kind = coupon.KindFreeDays
	c.Value = 5
	repo := &fakeCouponRepo{coupons: map[string]*coupon.Coupon{c.Code: c}}
	usages := &fakeUsageRepo{counts: map[int64]int{}}
	plans := &fakePlanRepo{plans: map[int64]*plan.Plan{
		3: {ID: 3, PricingType: plan.PricingPlatform, Price: 30000, ValidityDays: 30},
	}}
	svc := NewService(repo, usages, plans, zap.NewNop())

	resp, err := svc.Preview(context.Background(), 7, false, &coupon.PreviewRequest{
		Code:   "SAVE10",
		PlanID: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, resp.BonusDays)
	assert.Equal(t, int64(30000), resp.PayableAmount)
}
