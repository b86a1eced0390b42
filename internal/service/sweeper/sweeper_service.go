// Package sweeper runs the daily period-transition job: queued periods whose
// start date has arrived become active, active periods past their end date
// expire. The job is scheduled with gocron and guarded by a redis lock so
// only one instance sweeps per day.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/service/scheduler"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// lockTTL outlives any plausible sweep so a crashed holder cannot wedge the
// next day's run.
const lockTTL = 6 * time.Hour

type PeriodRepo interface {
	ActivateDue(ctx context.Context, startOfDay time.Time) ([]int64, error)
	ExpireLapsed(ctx context.Context, startOfDay time.Time) ([]int64, error)
}

type Notifier interface {
	NotifyUser(ctx context.Context, userID int64, title, body string, data map[string]string)
}

type Service struct {
	periods  PeriodRepo
	rdb      *redis.Client
	notifier Notifier
	logger   *zap.Logger
	hour     int

	sched gocron.Scheduler
	now   func() time.Time
}

func NewService(periods PeriodRepo, rdb *redis.Client, notifier Notifier, hour int, logger *zap.Logger) *Service {
	return &Service{
		periods:  periods,
		rdb:      rdb,
		notifier: notifier,
		logger:   logger,
		hour:     hour,
		now:      time.Now,
	}
}

// Start schedules the daily sweep and an immediate catch-up run for the case
// where the process was down across a day boundary.
func (s *Service) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.sched = sched

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(s.hour), 0, 0))),
		gocron.NewTask(func() {
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error("scheduled sweep failed", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}

	sched.Start()

	go func() {
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("startup sweep failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Service) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// Run performs one sweep, skipping silently if another instance holds today's
// lock. Transitions compare against the start of the current day, so a period
// ending today stays usable until midnight.
func (s *Service) Run(ctx context.Context) (*period.SweepResult, error) {
	now := s.now()
	ok, err := s.acquireLock(ctx, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info("sweep already running elsewhere, skipping")
		return &period.SweepResult{RanAt: now}, nil
	}

	return s.sweep(ctx, now)
}

// RunOnce is the operator trigger behind the admin endpoint. It bypasses the
// daily lock: an operator asking for a sweep wants one now.
func (s *Service) RunOnce(ctx context.Context) (*period.SweepResult, error) {
	return s.sweep(ctx, s.now())
}

func (s *Service) sweep(ctx context.Context, now time.Time) (*period.SweepResult, error) {
	cutoff := scheduler.StartOfDay(now)

	activated, err := s.periods.ActivateDue(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to activate due periods: %w", err)
	}
	for _, userID := range activated {
		s.notifier.NotifyUser(ctx, userID, "Subscription started",
			"Your queued subscription is now active.",
			map[string]string{"event": "subscription_activated"})
	}

	expired, err := s.periods.ExpireLapsed(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire lapsed periods: %w", err)
	}
	for _, userID := range expired {
		s.notifier.NotifyUser(ctx, userID, "Subscription expired",
			"Your subscription has ended. Renew to keep your benefits.",
			map[string]string{"event": "subscription_expired"})
	}

	result := &period.SweepResult{
		Activated: int64(len(activated)),
		Expired:   int64(len(expired)),
		RanAt:     now,
	}
	s.logger.Info("sweep completed",
		zap.Int64("activated", result.Activated),
		zap.Int64("expired", result.Expired),
	)
	return result, nil
}

// acquireLock claims today's sweep. The key is date-scoped: every instance
// competes once per day, the winner holds the claim for lockTTL.
func (s *Service) acquireLock(ctx context.Context, now time.Time) (bool, error) {
	if s.rdb == nil {
		return true, nil
	}
	key := "sweeper:lock:" + now.Format("2006-01-02")
	ok, err := s.rdb.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	return ok, nil
}
