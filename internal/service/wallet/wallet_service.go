package wallet

import (
	"context"
	"fmt"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/domain/wallet"
	xerrors "talktime-service/internal/pkg/errors"
	"talktime-service/internal/pkg/ref"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type WalletRepo interface {
	GetOrCreateForUpdateWithTx(ctx context.Context, tx pgx.Tx, userID int64, kind wallet.Kind, currency string) (*wallet.Wallet, error)
	Get(ctx context.Context, userID int64, kind wallet.Kind) (*wallet.Wallet, error)
	InsertRechargeWithTx(ctx context.Context, tx pgx.Tx, rec *wallet.Recharge) error
	UpdateRechargePaymentWithTx(ctx context.Context, tx pgx.Tx, rec *wallet.Recharge) error
	FindRechargeByGatewayTxnIDWithTx(ctx context.Context, tx pgx.Tx, txnID string) (*wallet.Recharge, error)
	InsertDeductionWithTx(ctx context.Context, tx pgx.Tx, d *wallet.Deduction) error
	RecomputeBalanceWithTx(ctx context.Context, tx pgx.Tx, walletID int64) (balance, minutes int64, err error)
	ListRecharges(ctx context.Context, walletID int64, limit int) ([]wallet.Recharge, error)
	ListDeductions(ctx context.Context, walletID int64, limit int) ([]wallet.Deduction, error)
}

type WithdrawalRepo interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, w *wallet.WithdrawalRequest) error
	SumNonRejectedSinceWithTx(ctx context.Context, tx pgx.Tx, userID int64, since time.Time) (int64, error)
	HasPendingWithTx(ctx context.Context, tx pgx.Tx, userID int64) (bool, error)
	FindByIDWithTx(ctx context.Context, tx pgx.Tx, id int64) (*wallet.WithdrawalRequest, error)
	UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status wallet.WithdrawalStatus, reason string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]wallet.WithdrawalRequest, error)
}

// Service is the ledger store: wallets mutate only by appending recharge or
// deduction rows, and the balance column is recomputed from the ledger
// inside the same transaction as every append.
type Service struct {
	db          TxRunner
	wallets     WalletRepo
	withdrawals WithdrawalRepo
	dailyCap    int64
	currency    string
	logger      *zap.Logger
	now         func() time.Time
}

func NewService(db TxRunner, wallets WalletRepo, withdrawals WithdrawalRepo, dailyCap int64, currency string, logger *zap.Logger) *Service {
	return &Service{
		db:          db,
		wallets:     wallets,
		withdrawals: withdrawals,
		dailyCap:    dailyCap,
		currency:    currency,
		logger:      logger,
		now:         time.Now,
	}
}

// Credit records a recharge inside the caller's transaction (the reconciler
// owns the atomic boundary) and recomputes the balance. A transaction already
// on the ledger with a non-success verdict is settled in place: the gateway
// txn id identifies the row, a later success must not append a second one. A
// transaction already applied as success returns ErrDuplicateEntry.
func (s *Service) Credit(ctx context.Context, tx pgx.Tx, userID int64, kind wallet.Kind, rec *wallet.Recharge) error {
	w, err := s.wallets.GetOrCreateForUpdateWithTx(ctx, tx, userID, kind, s.currency)
	if err != nil {
		return err
	}

	rec.WalletID = w.ID
	if rec.Ref == "" {
		rec.Ref = ref.New("RCH")
	}

	if rec.Payment.GatewayTxnID != "" {
		existing, err := s.wallets.FindRechargeByGatewayTxnIDWithTx(ctx, tx, rec.Payment.GatewayTxnID)
		switch {
		case err == nil && existing.Payment.Status == period.PaymentSuccess:
			return xerrors.ErrDuplicateEntry
		case err == nil:
			rec.ID = existing.ID
			rec.Ref = existing.Ref
		case !xerrors.Is(err, xerrors.ErrNotFound):
			return err
		}
	}

	if rec.ID != 0 {
		if err := s.wallets.UpdateRechargePaymentWithTx(ctx, tx, rec); err != nil {
			return err
		}
	} else if err := s.wallets.InsertRechargeWithTx(ctx, tx, rec); err != nil {
		return err
	}

	balance, minutes, err := s.wallets.RecomputeBalanceWithTx(ctx, tx, w.ID)
	if err != nil {
		return err
	}

	s.logger.Info("wallet recharge recorded",
		zap.Int64("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("ref", rec.Ref),
		zap.String("status", string(rec.Payment.Status)),
		zap.Int64("amount", rec.Amount),
		zap.Int64("minutes", rec.Minutes),
		zap.Int64("balance", balance),
		zap.Int64("minutes_balance", minutes),
	)
	return nil
}

// Debit appends a deduction in its own transaction. Fails with
// ErrInsufficientBalance when the recomputed balance would go negative,
// rolling the append back.
func (s *Service) Debit(ctx context.Context, userID int64, kind wallet.Kind, amount, minutes int64, reason, reference string) error {
	if amount < 0 || minutes < 0 || (amount == 0 && minutes == 0) {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "debit must be positive")
	}

	return s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		return s.debitWithTx(ctx, tx, userID, kind, amount, minutes, reason, reference)
	})
}

func (s *Service) debitWithTx(ctx context.Context, tx pgx.Tx, userID int64, kind wallet.Kind, amount, minutes int64, reason, reference string) error {
	w, err := s.wallets.GetOrCreateForUpdateWithTx(ctx, tx, userID, kind, s.currency)
	if err != nil {
		return err
	}

	d := &wallet.Deduction{
		WalletID: w.ID,
		Ref:      ref.New("DED"),
		Amount:   amount,
		Minutes:  minutes,
		Reason:   reason,
	}
	if reference != "" {
		d.Reference.String = reference
		d.Reference.Valid = true
	}
	if err := s.wallets.InsertDeductionWithTx(ctx, tx, d); err != nil {
		return err
	}

	balance, minutesBal, err := s.wallets.RecomputeBalanceWithTx(ctx, tx, w.ID)
	if err != nil {
		return err
	}
	if balance < 0 || minutesBal < 0 {
		return xerrors.ErrInsufficientBalance
	}

	s.logger.Info("wallet debited",
		zap.Int64("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("ref", d.Ref),
		zap.Int64("amount", amount),
		zap.Int64("minutes", minutes),
		zap.String("reason", reason),
	)
	return nil
}

// RechargeByGatewayTxn is the wallet-side idempotency probe used by the
// reconciler.
func (s *Service) RechargeByGatewayTxn(ctx context.Context, tx pgx.Tx, txnID string) (*wallet.Recharge, error) {
	return s.wallets.FindRechargeByGatewayTxnIDWithTx(ctx, tx, txnID)
}

// Statement returns the wallet head with its ledgers.
func (s *Service) Statement(ctx context.Context, userID int64, kind wallet.Kind) (*wallet.Statement, error) {
	w, err := s.wallets.Get(ctx, userID, kind)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			// Lazily created wallets: no credit yet means an empty ledger.
			return &wallet.Statement{
				Wallet:     wallet.Wallet{UserID: userID, Kind: kind, Currency: s.currency},
				Recharges:  []wallet.Recharge{},
				Deductions: []wallet.Deduction{},
			}, nil
		}
		return nil, err
	}

	recharges, err := s.wallets.ListRecharges(ctx, w.ID, 100)
	if err != nil {
		return nil, err
	}
	deductions, err := s.wallets.ListDeductions(ctx, w.ID, 100)
	if err != nil {
		return nil, err
	}

	return &wallet.Statement{Wallet: *w, Recharges: recharges, Deductions: deductions}, nil
}

// ========== Withdrawals (earning wallet) ==========

// RequestWithdrawal creates a pending withdrawal. The earning wallet row
// stays locked across the balance, single-pending and rolling-cap checks, so
// concurrent requests cannot overdraw.
func (s *Service) RequestWithdrawal(ctx context.Context, userID, amount int64) (*wallet.WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "withdrawal amount must be positive")
	}

	var req *wallet.WithdrawalRequest
	err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		w, err := s.wallets.GetOrCreateForUpdateWithTx(ctx, tx, userID, wallet.KindEarning, s.currency)
		if err != nil {
			return err
		}
		if w.Balance < amount {
			return xerrors.ErrInsufficientBalance
		}

		pending, err := s.withdrawals.HasPendingWithTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if pending {
			return xerrors.ErrPendingWithdrawal
		}

		since := s.now().Add(-24 * time.Hour)
		withdrawn, err := s.withdrawals.SumNonRejectedSinceWithTx(ctx, tx, userID, since)
		if err != nil {
			return err
		}
		if withdrawn+amount > s.dailyCap {
			remaining := s.dailyCap - withdrawn
			if remaining < 0 {
				remaining = 0
			}
			return &xerrors.DailyCapError{Cap: s.dailyCap, Withdrawn: withdrawn, Remaining: remaining}
		}

		req = &wallet.WithdrawalRequest{
			UserID: userID,
			Amount: amount,
			Status: wallet.WithdrawalPending,
		}
		return s.withdrawals.CreateWithTx(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("request_id", req.ID),
	)
	return req, nil
}

// ApproveWithdrawal flips a pending request to approved and appends the
// earning-wallet debit in the same transaction.
func (s *Service) ApproveWithdrawal(ctx context.Context, id int64) error {
	err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		req, err := s.withdrawals.FindByIDWithTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != wallet.WithdrawalPending {
			return xerrors.Wrap(xerrors.ErrConflict, "withdrawal already processed")
		}

		if err := s.debitWithTx(ctx, tx, req.UserID, wallet.KindEarning, req.Amount, 0, "withdrawal", fmt.Sprintf("WD-%d", id)); err != nil {
			return err
		}
		return s.withdrawals.UpdateStatusWithTx(ctx, tx, id, wallet.WithdrawalApproved, "")
	})
	if err != nil {
		return err
	}

	s.logger.Info("withdrawal approved", zap.Int64("request_id", id))
	return nil
}

// RejectWithdrawal flips a pending request to rejected; no ledger change.
func (s *Service) RejectWithdrawal(ctx context.Context, id int64, reason string) error {
	err := s.db.WithinTx(ctx, func(tx pgx.Tx) error {
		return s.withdrawals.UpdateStatusWithTx(ctx, tx, id, wallet.WithdrawalRejected, reason)
	})
	if err != nil {
		return err
	}

	s.logger.Info("withdrawal rejected", zap.Int64("request_id", id), zap.String("reason", reason))
	return nil
}

// ListWithdrawals retrieves a user's withdrawal requests.
func (s *Service) ListWithdrawals(ctx context.Context, userID int64) (*wallet.WithdrawalListResponse, error) {
	requests, err := s.withdrawals.ListByUser(ctx, userID, 50)
	if err != nil {
		return nil, err
	}
	return &wallet.WithdrawalListResponse{Withdrawals: requests, Total: int64(len(requests))}, nil
}
