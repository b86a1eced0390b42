// internal/service/subscription/subscription_service.go
package subscription

import (
	"context"
	"fmt"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/domain/plan"

	"go.uber.org/zap"
)

// Read-side queries over plans and subscription periods. Mutation goes
// through the reconciler and the sweeper; this service only answers "what do
// I have and what can I buy".

type PeriodRepo interface {
	FindActiveByUser(ctx context.Context, userID int64, now time.Time) (*period.SubscriptionPeriod, error)
	ListByUser(ctx context.Context, userID int64, filters *period.ListFilters) ([]period.SubscriptionPeriod, int64, error)
}

type PlanRepo interface {
	FindByID(ctx context.Context, id int64) (*plan.Plan, error)
	ListActive(ctx context.Context) ([]plan.Plan, error)
}

type Service struct {
	periods PeriodRepo
	plans   PlanRepo
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(periods PeriodRepo, plans PlanRepo, logger *zap.Logger) *Service {
	return &Service{periods: periods, plans: plans, logger: logger, now: time.Now}
}

// ActivePeriod returns the period covering the user right now, including a
// queued period whose start has passed but which the sweep has not yet
// flipped.
func (s *Service) ActivePeriod(ctx context.Context, userID int64) (*period.SubscriptionPeriod, error) {
	return s.periods.FindActiveByUser(ctx, userID, s.now())
}

// ListPeriods retrieves the user's period history with filters.
func (s *Service) ListPeriods(ctx context.Context, userID int64, filters *period.ListFilters) (*period.ListResponse, error) {
	periods, total, err := s.periods.ListByUser(ctx, userID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	return &period.ListResponse{
		Periods:  periods,
		Total:    total,
		Page:     filters.Page,
		PageSize: filters.PageSize,
	}, nil
}

// ListPlans returns the purchasable catalog.
func (s *Service) ListPlans(ctx context.Context) ([]plan.Plan, error) {
	return s.plans.ListActive(ctx)
}

// GetPlan returns one catalog entry.
func (s *Service) GetPlan(ctx context.Context, id int64) (*plan.Plan, error) {
	return s.plans.FindByID(ctx, id)
}

// LedgerForUser assembles the admin view of a user's period history without
// pagination limits beyond the repo default.
func (s *Service) LedgerForUser(ctx context.Context, userID int64) (*period.ListResponse, error) {
	filters := &period.ListFilters{Page: 1, PageSize: 100}
	result, err := s.ListPeriods(ctx, userID, filters)
	if err != nil {
		s.logger.Error("failed to assemble user ledger",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}
