package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"talktime-service/internal/domain/coupon"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CouponRepository struct {
	db *pgxpool.Pool
}

func NewCouponRepository(db *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{db: db}
}

const couponColumns = `id, code, kind, value, valid_from, valid_until,
	       max_uses, current_uses, max_uses_per_user, reusable, staff_only,
	       min_amount, pricing_types, pricing_ids, payment_methods,
	       is_active, created_at, updated_at`

// Create inserts an operator-created coupon. Codes are stored upper-cased.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	query := `
		INSERT INTO coupons (
			code, kind, value, valid_from, valid_until,
			max_uses, max_uses_per_user, reusable, staff_only,
			min_amount, pricing_types, pricing_ids, payment_methods, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, current_uses, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		coupon.NormalizeCode(c.Code), c.Kind, c.Value, c.ValidFrom, c.ValidUntil,
		c.MaxUses, c.MaxUsesPerUser, c.Reusable, c.StaffOnly,
		c.MinAmount, c.PricingTypes, c.PricingIDs, c.PaymentMethods, c.IsActive,
	).Scan(&c.ID, &c.CurrentUses, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrConflict
		}
		return fmt.Errorf("failed to create coupon: %w", err)
	}

	return nil
}

// FindByCode looks a coupon up by normalized code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupons WHERE code = $1`, couponColumns)
	return scanCoupon(r.db.QueryRow(ctx, query, coupon.NormalizeCode(code)))
}

// FindByCodeForUpdate locks the coupon row inside the reconcile transaction
// so the global-cap check and the usage increment are atomic.
func (r *CouponRepository) FindByCodeForUpdate(ctx context.Context, tx pgx.Tx, code string) (*coupon.Coupon, error) {
	query := fmt.Sprintf(`SELECT %s FROM coupons WHERE code = $1 FOR UPDATE`, couponColumns)
	return scanCoupon(tx.QueryRow(ctx, query, coupon.NormalizeCode(code)))
}

// IncrementUsesWithTx bumps current_uses, refusing to pass the global cap.
func (r *CouponRepository) IncrementUsesWithTx(ctx context.Context, tx pgx.Tx, id int64) error {
	query := `
		UPDATE coupons
		SET current_uses = current_uses + 1, updated_at = $1
		WHERE id = $2 AND (max_uses IS NULL OR current_uses < max_uses)
	`

	result, err := tx.Exec(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to increment coupon uses: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrConflict
	}
	return nil
}

// Disable soft-retires a coupon; coupons are never deleted.
func (r *CouponRepository) Disable(ctx context.Context, code string) error {
	query := `UPDATE coupons SET is_active = FALSE, updated_at = $1 WHERE code = $2`

	result, err := r.db.Exec(ctx, query, time.Now(), coupon.NormalizeCode(code))
	if err != nil {
		return fmt.Errorf("failed to disable coupon: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// List retrieves coupons with filters.
func (r *CouponRepository) List(ctx context.Context, filters *coupon.ListFilters) ([]coupon.Coupon, int64, error) {
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argPos := 1

	if filters.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *filters.Active)
		argPos++
	}
	if filters.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, filters.Kind)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM coupons WHERE %s", whereClause)
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count coupons: %w", err)
	}

	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`
		SELECT %s FROM coupons
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, couponColumns, whereClause, argPos, argPos+1)
	args = append(args, filters.PageSize, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []coupon.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, err
		}
		coupons = append(coupons, *c)
	}

	return coupons, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.Code, &c.Kind, &c.Value, &c.ValidFrom, &c.ValidUntil,
		&c.MaxUses, &c.CurrentUses, &c.MaxUsesPerUser, &c.Reusable, &c.StaffOnly,
		&c.MinAmount, &c.PricingTypes, &c.PricingIDs, &c.PaymentMethods,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan coupon: %w", err)
	}
	return &c, nil
}
