package postgres

import (
	"context"
	"errors"
	"fmt"

	"talktime-service/internal/domain/plan"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlanRepository reads the pricing catalog. Plans are maintained out of band;
// this service only looks them up.
type PlanRepository struct {
	db *pgxpool.Pool
}

func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) FindByID(ctx context.Context, id int64) (*plan.Plan, error) {
	query := `
		SELECT id, pricing_type, name, price, currency, validity_days, talk_minutes, is_active, created_at
		FROM plans
		WHERE id = $1
	`

	var p plan.Plan
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.PricingType, &p.Name, &p.Price, &p.Currency,
		&p.ValidityDays, &p.TalkMinutes, &p.IsActive, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}

	return &p, nil
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]plan.Plan, error) {
	query := `
		SELECT id, pricing_type, name, price, currency, validity_days, talk_minutes, is_active, created_at
		FROM plans
		WHERE is_active = TRUE
		ORDER BY pricing_type, price
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []plan.Plan{}
	for rows.Next() {
		var p plan.Plan
		if err := rows.Scan(
			&p.ID, &p.PricingType, &p.Name, &p.Price, &p.Currency,
			&p.ValidityDays, &p.TalkMinutes, &p.IsActive, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}

	return plans, nil
}
