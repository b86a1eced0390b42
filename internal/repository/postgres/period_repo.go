package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"talktime-service/internal/domain/period"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PeriodRepository struct {
	db *pgxpool.Pool
}

func NewPeriodRepository(db *pgxpool.Pool) *PeriodRepository {
	return &PeriodRepository{db: db}
}

const periodColumns = `id, user_id, plan_id, status, start_date, end_date,
	       gateway, gateway_txn_id, order_id, amount, currency, payment_status,
	       raw_payload, coupon_code, created_at, updated_at`

// CreateWithTx inserts a period. The partial unique index on gateway_txn_id
// is the idempotency backstop: a concurrent insert for the same transaction
// surfaces as ErrDuplicateEntry and the caller re-reads the winner's row.
func (r *PeriodRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *period.SubscriptionPeriod) error {
	query := `
		INSERT INTO subscription_periods (
			user_id, plan_id, status, start_date, end_date,
			gateway, gateway_txn_id, order_id, amount, currency, payment_status,
			raw_payload, coupon_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	var txnID sql.NullString
	if p.Payment.GatewayTxnID != "" {
		txnID = sql.NullString{String: p.Payment.GatewayTxnID, Valid: true}
	}

	err := tx.QueryRow(
		ctx, query,
		p.UserID, p.PlanID, p.Status, p.StartDate, p.EndDate,
		p.Payment.Gateway, txnID, p.Payment.OrderID, p.Payment.Amount,
		p.Payment.Currency, p.Payment.Status,
		p.Payment.RawPayload, p.CouponCode,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create subscription period: %w", err)
	}

	return nil
}

// FindByGatewayTxnID looks up the period a gateway transaction was applied to.
func (r *PeriodRepository) FindByGatewayTxnID(ctx context.Context, txnID string) (*period.SubscriptionPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscription_periods WHERE gateway_txn_id = $1`, periodColumns)
	return scanPeriod(r.db.QueryRow(ctx, query, txnID))
}

// FindByGatewayTxnIDWithTx is the in-transaction idempotency probe.
func (r *PeriodRepository) FindByGatewayTxnIDWithTx(ctx context.Context, tx pgx.Tx, txnID string) (*period.SubscriptionPeriod, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscription_periods WHERE gateway_txn_id = $1`, periodColumns)
	return scanPeriod(tx.QueryRow(ctx, query, txnID))
}

// FindPendingByOrderIDWithTx finds the placeholder row created at order time.
func (r *PeriodRepository) FindPendingByOrderIDWithTx(ctx context.Context, tx pgx.Tx, orderID string) (*period.SubscriptionPeriod, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscription_periods
		WHERE order_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, periodColumns)
	return scanPeriod(tx.QueryRow(ctx, query, orderID))
}

// LockUser serializes concurrent scheduling decisions for one user. The
// advisory lock covers the "no current period" case, where a FOR UPDATE on
// existing rows has nothing to grab.
func (r *PeriodRepository) LockUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return fmt.Errorf("failed to lock user period set: %w", err)
	}
	return nil
}

// FindLatestCurrentWithTx returns the user's latest active-or-queued period
// with future coverage, locked for the rest of the transaction. The
// scheduler chains new purchases off this row's end date.
func (r *PeriodRepository) FindLatestCurrentWithTx(ctx context.Context, tx pgx.Tx, userID int64, now time.Time) (*period.SubscriptionPeriod, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscription_periods
		WHERE user_id = $1 AND status IN ('active', 'queued') AND end_date > $2
		ORDER BY end_date DESC
		LIMIT 1
		FOR UPDATE
	`, periodColumns)
	return scanPeriod(tx.QueryRow(ctx, query, userID, now))
}

// FindActiveByUser returns the user's currently active period, if any.
func (r *PeriodRepository) FindActiveByUser(ctx context.Context, userID int64, now time.Time) (*period.SubscriptionPeriod, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscription_periods
		WHERE user_id = $1 AND status = 'active' AND end_date > $2
		ORDER BY end_date DESC
		LIMIT 1
	`, periodColumns)
	return scanPeriod(r.db.QueryRow(ctx, query, userID, now))
}

// UpdatePaymentWithTx finalizes a period after the gateway verdict: payment
// status, period status, dates and audit payload in one write.
func (r *PeriodRepository) UpdatePaymentWithTx(ctx context.Context, tx pgx.Tx, p *period.SubscriptionPeriod) error {
	query := `
		UPDATE subscription_periods
		SET status = $1, start_date = $2, end_date = $3,
		    gateway_txn_id = $4, payment_status = $5, raw_payload = $6,
		    coupon_code = $7, updated_at = $8
		WHERE id = $9
	`

	var txnID sql.NullString
	if p.Payment.GatewayTxnID != "" {
		txnID = sql.NullString{String: p.Payment.GatewayTxnID, Valid: true}
	}

	result, err := tx.Exec(
		ctx, query,
		p.Status, p.StartDate, p.EndDate,
		txnID, p.Payment.Status, p.Payment.RawPayload,
		p.CouponCode, time.Now(), p.ID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to update subscription period: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ListByUser retrieves a user's periods, newest first.
func (r *PeriodRepository) ListByUser(ctx context.Context, userID int64, filters *period.ListFilters) ([]period.SubscriptionPeriod, int64, error) {
	conditions := "user_id = $1"
	args := []interface{}{userID}
	argPos := 2

	if filters.Status != nil {
		conditions += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *filters.Status)
		argPos++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM subscription_periods WHERE %s", conditions)
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count periods: %w", err)
	}

	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`
		SELECT %s FROM subscription_periods
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, periodColumns, conditions, argPos, argPos+1)
	args = append(args, filters.PageSize, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()

	periods := []period.SubscriptionPeriod{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, 0, err
		}
		periods = append(periods, *p)
	}

	return periods, total, nil
}

// ActivateDue flips queued periods whose start has arrived. The filter
// predicate makes repeated runs in the same day no-ops.
func (r *PeriodRepository) ActivateDue(ctx context.Context, startOfDay time.Time) ([]int64, error) {
	query := `
		UPDATE subscription_periods
		SET status = 'active', updated_at = NOW()
		WHERE status = 'queued' AND start_date <= $1
		RETURNING user_id
	`
	return r.execSweep(ctx, query, startOfDay)
}

// ExpireLapsed flips active periods whose end has passed the day boundary.
func (r *PeriodRepository) ExpireLapsed(ctx context.Context, startOfDay time.Time) ([]int64, error) {
	query := `
		UPDATE subscription_periods
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND end_date < $1
		RETURNING user_id
	`
	return r.execSweep(ctx, query, startOfDay)
}

func (r *PeriodRepository) execSweep(ctx context.Context, query string, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep update failed: %w", err)
	}
	defer rows.Close()

	userIDs := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan swept row: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, nil
}

func scanPeriod(row rowScanner) (*period.SubscriptionPeriod, error) {
	var p period.SubscriptionPeriod
	var txnID sql.NullString

	err := row.Scan(
		&p.ID, &p.UserID, &p.PlanID, &p.Status, &p.StartDate, &p.EndDate,
		&p.Payment.Gateway, &txnID, &p.Payment.OrderID, &p.Payment.Amount,
		&p.Payment.Currency, &p.Payment.Status,
		&p.Payment.RawPayload, &p.CouponCode, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription period: %w", err)
	}

	p.Payment.GatewayTxnID = txnID.String
	p.Payment.CreatedAt = p.CreatedAt
	p.Payment.UpdatedAt = p.UpdatedAt
	return &p, nil
}
