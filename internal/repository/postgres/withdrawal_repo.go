package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"talktime-service/internal/domain/wallet"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WithdrawalRepository struct {
	db *pgxpool.Pool
}

func NewWithdrawalRepository(db *pgxpool.Pool) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// CreateWithTx inserts a withdrawal request. Runs after the earning wallet
// row has been locked, so the cap and pending checks cannot race.
func (r *WithdrawalRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, w *wallet.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (user_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, requested_at
	`

	err := tx.QueryRow(ctx, query, w.UserID, w.Amount, w.Status).Scan(&w.ID, &w.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

// SumNonRejectedSinceWithTx totals the user's non-rejected requests inside
// the rolling window, for the daily-cap check.
func (r *WithdrawalRepository) SumNonRejectedSinceWithTx(ctx context.Context, tx pgx.Tx, userID int64, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawal_requests
		WHERE user_id = $1 AND status != 'rejected' AND requested_at >= $2
	`

	var total int64
	if err := tx.QueryRow(ctx, query, userID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum withdrawals: %w", err)
	}
	return total, nil
}

// HasPendingWithTx reports whether the user already has a pending request.
func (r *WithdrawalRepository) HasPendingWithTx(ctx context.Context, tx pgx.Tx, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM withdrawal_requests WHERE user_id = $1 AND status = 'pending')`

	var exists bool
	if err := tx.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check pending withdrawal: %w", err)
	}
	return exists, nil
}

// FindByIDWithTx locks a request row for the approve/reject flow.
func (r *WithdrawalRepository) FindByIDWithTx(ctx context.Context, tx pgx.Tx, id int64) (*wallet.WithdrawalRequest, error) {
	query := `
		SELECT id, user_id, amount, status, requested_at, processed_at, rejection_reason
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`

	var w wallet.WithdrawalRequest
	err := tx.QueryRow(ctx, query, id).Scan(
		&w.ID, &w.UserID, &w.Amount, &w.Status,
		&w.RequestedAt, &w.ProcessedAt, &w.RejectionReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find withdrawal request: %w", err)
	}
	return &w, nil
}

// UpdateStatusWithTx flips a request to approved/rejected.
func (r *WithdrawalRepository) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status wallet.WithdrawalStatus, reason string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $1, processed_at = $2, rejection_reason = $3
		WHERE id = $4 AND status = 'pending'
	`

	result, err := tx.Exec(
		ctx, query,
		status, time.Now(),
		sql.NullString{String: reason, Valid: reason != ""},
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ListByUser retrieves a user's withdrawal requests, newest first.
func (r *WithdrawalRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]wallet.WithdrawalRequest, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, user_id, amount, status, requested_at, processed_at, rejection_reason
		FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	requests := []wallet.WithdrawalRequest{}
	for rows.Next() {
		var w wallet.WithdrawalRequest
		if err := rows.Scan(
			&w.ID, &w.UserID, &w.Amount, &w.Status,
			&w.RequestedAt, &w.ProcessedAt, &w.RejectionReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		requests = append(requests, w)
	}
	return requests, nil
}
