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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WalletRepository struct {
	db *pgxpool.Pool
}

func NewWalletRepository(db *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{db: db}
}

// GetOrCreateForUpdateWithTx returns the user's wallet row locked for the
// rest of the transaction, creating it lazily on first credit. The row lock
// serializes concurrent credit/debit for the same wallet.
func (r *WalletRepository) GetOrCreateForUpdateWithTx(ctx context.Context, tx pgx.Tx, userID int64, kind wallet.Kind, currency string) (*wallet.Wallet, error) {
	insert := `
		INSERT INTO wallets (user_id, kind, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, kind) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert, userID, kind, currency); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	query := `
		SELECT id, user_id, kind, currency, balance, minutes, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND kind = $2
		FOR UPDATE
	`

	var w wallet.Wallet
	err := tx.QueryRow(ctx, query, userID, kind).Scan(
		&w.ID, &w.UserID, &w.Kind, &w.Currency, &w.Balance, &w.Minutes,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	return &w, nil
}

// Get returns a wallet without locking, for read endpoints.
func (r *WalletRepository) Get(ctx context.Context, userID int64, kind wallet.Kind) (*wallet.Wallet, error) {
	query := `
		SELECT id, user_id, kind, currency, balance, minutes, created_at, updated_at
		FROM wallets
		WHERE user_id = $1 AND kind = $2
	`

	var w wallet.Wallet
	err := r.db.QueryRow(ctx, query, userID, kind).Scan(
		&w.ID, &w.UserID, &w.Kind, &w.Currency, &w.Balance, &w.Minutes,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}

	return &w, nil
}

// InsertRechargeWithTx appends a ledger credit. The partial unique index on
// gateway_txn_id rejects a second application of the same transaction.
func (r *WalletRepository) InsertRechargeWithTx(ctx context.Context, tx pgx.Tx, rec *wallet.Recharge) error {
	query := `
		INSERT INTO wallet_recharges (
			wallet_id, ref, amount, minutes,
			gateway, gateway_txn_id, order_id, currency, payment_status, raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	var txnID sql.NullString
	if rec.Payment.GatewayTxnID != "" {
		txnID = sql.NullString{String: rec.Payment.GatewayTxnID, Valid: true}
	}

	err := tx.QueryRow(
		ctx, query,
		rec.WalletID, rec.Ref, rec.Amount, rec.Minutes,
		rec.Payment.Gateway, txnID, rec.Payment.OrderID,
		rec.Payment.Currency, rec.Payment.Status, rec.Payment.RawPayload,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert recharge: %w", err)
	}
	return nil
}

// UpdateRechargePaymentWithTx rewrites a recharge row's amounts and payment
// verdict. Used when a transaction first seen pending later settles.
func (r *WalletRepository) UpdateRechargePaymentWithTx(ctx context.Context, tx pgx.Tx, rec *wallet.Recharge) error {
	query := `
		UPDATE wallet_recharges
		SET amount = $2, minutes = $3, payment_status = $4, raw_payload = $5
		WHERE id = $1
	`

	tag, err := tx.Exec(
		ctx, query,
		rec.ID, rec.Amount, rec.Minutes, rec.Payment.Status, rec.Payment.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("failed to update recharge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// FindRechargeByGatewayTxnIDWithTx is the wallet-side idempotency probe.
func (r *WalletRepository) FindRechargeByGatewayTxnIDWithTx(ctx context.Context, tx pgx.Tx, txnID string) (*wallet.Recharge, error) {
	query := `
		SELECT id, wallet_id, ref, amount, minutes,
		       gateway, gateway_txn_id, order_id, currency, payment_status, raw_payload, created_at
		FROM wallet_recharges
		WHERE gateway_txn_id = $1
	`
	return scanRecharge(tx.QueryRow(ctx, query, txnID))
}

// InsertDeductionWithTx appends a ledger debit.
func (r *WalletRepository) InsertDeductionWithTx(ctx context.Context, tx pgx.Tx, d *wallet.Deduction) error {
	query := `
		INSERT INTO wallet_deductions (wallet_id, ref, amount, minutes, reason, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx, query,
		d.WalletID, d.Ref, d.Amount, d.Minutes, d.Reason, d.Reference,
	).Scan(&d.ID, &d.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert deduction: %w", err)
	}
	return nil
}

// RecomputeBalanceWithTx rewrites the wallet head as a reduction over the
// ledger rows: successful credits minus debits. It runs in the same
// transaction as the append it follows, so the materialized balance can
// never drift from the ledger.
func (r *WalletRepository) RecomputeBalanceWithTx(ctx context.Context, tx pgx.Tx, walletID int64) (balance, minutes int64, err error) {
	query := `
		UPDATE wallets
		SET balance = credits.amount - debits.amount,
		    minutes = credits.minutes - debits.minutes,
		    updated_at = $2
		FROM (
			SELECT COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(minutes), 0) AS minutes
			FROM wallet_recharges
			WHERE wallet_id = $1 AND payment_status = 'success'
		) AS credits, (
			SELECT COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(minutes), 0) AS minutes
			FROM wallet_deductions
			WHERE wallet_id = $1
		) AS debits
		WHERE wallets.id = $1
		RETURNING wallets.balance, wallets.minutes
	`

	if err := tx.QueryRow(ctx, query, walletID, time.Now()).Scan(&balance, &minutes); err != nil {
		return 0, 0, fmt.Errorf("failed to recompute wallet balance: %w", err)
	}
	return balance, minutes, nil
}

// ListRecharges returns a wallet's credit ledger, newest first.
func (r *WalletRepository) ListRecharges(ctx context.Context, walletID int64, limit int) ([]wallet.Recharge, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, wallet_id, ref, amount, minutes,
		       gateway, gateway_txn_id, order_id, currency, payment_status, raw_payload, created_at
		FROM wallet_recharges
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}
	defer rows.Close()

	recharges := []wallet.Recharge{}
	for rows.Next() {
		rec, err := scanRecharge(rows)
		if err != nil {
			return nil, err
		}
		recharges = append(recharges, *rec)
	}
	return recharges, nil
}

// ListDeductions returns a wallet's debit ledger, newest first.
func (r *WalletRepository) ListDeductions(ctx context.Context, walletID int64, limit int) ([]wallet.Deduction, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, wallet_id, ref, amount, minutes, reason, reference, created_at
		FROM wallet_deductions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deductions: %w", err)
	}
	defer rows.Close()

	deductions := []wallet.Deduction{}
	for rows.Next() {
		var d wallet.Deduction
		if err := rows.Scan(
			&d.ID, &d.WalletID, &d.Ref, &d.Amount, &d.Minutes,
			&d.Reason, &d.Reference, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deduction: %w", err)
		}
		deductions = append(deductions, d)
	}
	return deductions, nil
}

func scanRecharge(row rowScanner) (*wallet.Recharge, error) {
	var rec wallet.Recharge
	var txnID sql.NullString

	err := row.Scan(
		&rec.ID, &rec.WalletID, &rec.Ref, &rec.Amount, &rec.Minutes,
		&rec.Payment.Gateway, &txnID, &rec.Payment.OrderID,
		&rec.Payment.Currency, &rec.Payment.Status, &rec.Payment.RawPayload,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recharge: %w", err)
	}

	rec.Payment.GatewayTxnID = txnID.String
	return &rec, nil
}
