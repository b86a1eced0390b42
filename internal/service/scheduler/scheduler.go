// Package scheduler owns subscription-period placement: whether a purchase
// starts immediately or queues behind the user's current coverage. Every
// purchase path goes through Decide, which is what keeps periods
// non-overlapping regardless of entry point.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/domain/plan"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PeriodRepo interface {
	LockUser(ctx context.Context, tx pgx.Tx, userID int64) error
	FindLatestCurrentWithTx(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) (*period.SubscriptionPeriod, error)
}

type Service struct {
	periods PeriodRepo
	logger  *zap.Logger
	// now is swappable in tests.
	now func() time.Time
}

func NewService(periods PeriodRepo, logger *zap.Logger) *Service {
	return &Service{periods: periods, logger: logger, now: time.Now}
}

// Placement is where a new period lands.
type Placement struct {
	Start  time.Time
	End    time.Time
	Status period.Status
}

// Decide places a new period of the given length for the user. Must run
// inside the reconcile transaction: it takes the user's scheduling lock
// first, so two purchases for the same user serialize and cannot both read
// "no current period". Sequential purchases chain FIFO: the latest queued
// period's end becomes the next start.
func (s *Service) Decide(ctx context.Context, tx pgx.Tx, userID int64, length plan.HalfDays) (*Placement, error) {
	if length <= 0 {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "period length must be positive")
	}

	if err := s.periods.LockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	current, err := s.periods.FindLatestCurrentWithTx(ctx, tx, userID, now)
	if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to find current period: %w", err)
	}

	placement := Place(current, now, length)

	if current != nil && placement.Start.Before(current.EndDate) {
		// Should be unreachable; a scheduling bug, not a user error.
		return nil, xerrors.ErrOverlappingPeriod
	}

	s.logger.Debug("period placed",
		zap.Int64("user_id", userID),
		zap.String("status", string(placement.Status)),
		zap.Time("start", placement.Start),
		zap.Time("end", placement.End),
	)
	return placement, nil
}

// Place is the pure placement rule. No current coverage: start now, active.
// Current coverage: chain off its end, queued.
func Place(current *period.SubscriptionPeriod, now time.Time, length plan.HalfDays) *Placement {
	if current == nil {
		return &Placement{
			Start:  now,
			End:    coverageEnd(now, length),
			Status: period.StatusActive,
		}
	}
	start := current.EndDate
	return &Placement{
		Start:  start,
		End:    coverageEnd(start, length),
		Status: period.StatusQueued,
	}
}

// coverageEnd expands a raw length to the end of its last covered day. The
// nanosecond step back keeps a length landing exactly on midnight from
// spilling coverage into the next day.
func coverageEnd(start time.Time, length plan.HalfDays) time.Time {
	return EndOfDay(start.Add(length.Duration() - time.Nanosecond))
}

// StartOfDay truncates t to its local midnight. Sweep transitions compare at
// day boundaries so a period never flickers active/expired mid-day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay is the last instant of t's day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
