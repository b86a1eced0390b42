package postgres

import (
	"context"
	"fmt"

	"talktime-service/internal/domain/coupon"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CouponUsageRepository struct {
	db *pgxpool.Pool
}

func NewCouponUsageRepository(db *pgxpool.Pool) *CouponUsageRepository {
	return &CouponUsageRepository{db: db}
}

// InsertWithTx writes the immutable usage audit record. Called only after
// the underlying payment succeeded, inside the reconcile transaction.
func (r *CouponUsageRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, u *coupon.Usage) error {
	query := `
		INSERT INTO coupon_usages (
			coupon_id, user_id, gateway_txn_id,
			discount_amount, discount_half_days, discount_minutes
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, applied_at
	`

	err := tx.QueryRow(
		ctx, query,
		u.CouponID, u.UserID, u.GatewayTxnID,
		u.DiscountAmount, u.DiscountHalfDays, u.DiscountMinutes,
	).Scan(&u.ID, &u.AppliedAt)

	if err != nil {
		return fmt.Errorf("failed to insert coupon usage: %w", err)
	}
	return nil
}

// CountByCouponAndUser counts prior applications of a coupon by a user.
func (r *CouponUsageRepository) CountByCouponAndUser(ctx context.Context, couponID, userID int64) (int, error) {
	query := `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, couponID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count coupon usages: %w", err)
	}
	return count, nil
}

// CountByCouponAndUserWithTx is the transactional variant used during
// reconcile, so the per-user cap check and the insert see one snapshot.
func (r *CouponUsageRepository) CountByCouponAndUserWithTx(ctx context.Context, tx pgx.Tx, couponID, userID int64) (int, error) {
	query := `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	var count int
	if err := tx.QueryRow(ctx, query, couponID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count coupon usages: %w", err)
	}
	return count, nil
}

// ListByCoupon retrieves usage records for audit.
func (r *CouponUsageRepository) ListByCoupon(ctx context.Context, couponID int64, limit int) ([]coupon.Usage, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, coupon_id, user_id, gateway_txn_id,
		       discount_amount, discount_half_days, discount_minutes, applied_at
		FROM coupon_usages
		WHERE coupon_id = $1
		ORDER BY applied_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, couponID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupon usages: %w", err)
	}
	defer rows.Close()

	usages := []coupon.Usage{}
	for rows.Next() {
		var u coupon.Usage
		if err := rows.Scan(
			&u.ID, &u.CouponID, &u.UserID, &u.GatewayTxnID,
			&u.DiscountAmount, &u.DiscountHalfDays, &u.DiscountMinutes, &u.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan coupon usage: %w", err)
		}
		usages = append(usages, u)
	}

	return usages, nil
}
