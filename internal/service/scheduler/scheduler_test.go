package scheduler

import (
	"context"
	"testing"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/domain/plan"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeriodRepo struct {
	current *period.SubscriptionPeriod
	locked  []int64
}

func (f *fakePeriodRepo) LockUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	f.locked = append(f.locked, userID)
	return nil
}

func (f *fakePeriodRepo) FindLatestCurrentWithTx(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) (*period.SubscriptionPeriod, error) {
	if f.current == nil {
		return nil, xerrors.ErrNotFound
	}
	return f.current, nil
}

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestPlaceWithoutCoverage(t *testing.T) {
	p := Place(nil, noon, plan.HalfDays(60)) // 30 days

	assert.Equal(t, period.StatusActive, p.Status)
	assert.Equal(t, noon, p.Start)
	// Ends at the end of the 30th day, not mid-day.
	assert.Equal(t, EndOfDay(noon.AddDate(0, 0, 30)), p.End)
}

func TestPlaceBehindCurrentCoverage(t *testing.T) {
	currentEnd := EndOfDay(noon.AddDate(0, 0, 5))
	current := &period.SubscriptionPeriod{
		Status:    period.StatusActive,
		StartDate: noon.AddDate(0, 0, -25),
		EndDate:   currentEnd,
	}

	p := Place(current, noon, plan.HalfDays(14)) // 7 days

	assert.Equal(t, period.StatusQueued, p.Status)
	assert.Equal(t, currentEnd, p.Start)
	assert.Equal(t, EndOfDay(currentEnd.AddDate(0, 0, 7)), p.End)
}

func TestPlaceHalfDayLength(t *testing.T) {
	p := Place(nil, noon, plan.HalfDays(1))

	assert.Equal(t, period.StatusActive, p.Status)
	// A half-day purchase at noon covers through end of day, not into the
	// next one: noon plus 12 hours lands exactly on midnight.
	assert.Equal(t, EndOfDay(noon), p.End)

	// A full day at noon runs out mid-tomorrow, so it covers tomorrow.
	p = Place(nil, noon, plan.HalfDays(2))
	assert.Equal(t, EndOfDay(noon.AddDate(0, 0, 1)), p.End)

	// A half day starting at midnight stays within that day.
	midnight := StartOfDay(noon)
	p = Place(nil, midnight, plan.HalfDays(1))
	assert.Equal(t, EndOfDay(midnight), p.End)
}

func TestDecideLocksAndPlaces(t *testing.T) {
	repo := &fakePeriodRepo{}
	svc := NewService(repo, zap.NewNop())
	svc.now = func() time.Time { return noon }

	p, err := svc.Decide(context.Background(), nil, 42, plan.HalfDays(60))
	require.NoError(t, err)

	assert.Equal(t, []int64{42}, repo.locked)
	assert.Equal(t, period.StatusActive, p.Status)
	assert.Equal(t, noon, p.Start)
}

func TestDecideQueuesBehindCurrent(t *testing.T) {
	currentEnd := EndOfDay(noon.AddDate(0, 0, 10))
	repo := &fakePeriodRepo{current: &period.SubscriptionPeriod{
		Status:  period.StatusActive,
		EndDate: currentEnd,
	}}
	svc := NewService(repo, zap.NewNop())
	svc.now = func() time.Time { return noon }

	p, err := svc.Decide(context.Background(), nil, 42, plan.HalfDays(60))
	require.NoError(t, err)

	assert.Equal(t, period.StatusQueued, p.Status)
	assert.Equal(t, currentEnd, p.Start)
}

func TestDecideChainsSequentialPurchases(t *testing.T) {
	repo := &fakePeriodRepo{}
	svc := NewService(repo, zap.NewNop())
	svc.now = func() time.Time { return noon }

	first, err := svc.Decide(context.Background(), nil, 42, plan.HalfDays(20))
	require.NoError(t, err)

	// The first placement becomes the current period for the second call.
	repo.current = &period.SubscriptionPeriod{
		Status:    first.Status,
		StartDate: first.Start,
		EndDate:   first.End,
	}

	second, err := svc.Decide(context.Background(), nil, 42, plan.HalfDays(20))
	require.NoError(t, err)

	assert.Equal(t, first.End, second.Start)
	assert.True(t, second.End.After(first.End))
}

func TestDecideRejectsNonPositiveLength(t *testing.T) {
	svc := NewService(&fakePeriodRepo{}, zap.NewNop())

	_, err := svc.Decide(context.Background(), nil, 42, 0)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestDayBoundaryHelpers(t *testing.T) {
	sod := StartOfDay(noon)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), sod)

	eod := EndOfDay(noon)
	assert.Equal(t, sod.AddDate(0, 0, 1).Add(-time.Nanosecond), eod)
}
