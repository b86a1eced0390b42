package wallet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/domain/wallet"
	xerrors "talktime-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTxRunner executes the body with a nil transaction; the fakes below
// ignore it.
type fakeTxRunner struct{}

func (fakeTxRunner) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// fakeWalletRepo is an in-memory ledger: balances derive from the recharge
// and deduction rows, mirroring the SQL recompute.
type fakeWalletRepo struct {
	nextID     int64
	wallets    map[string]*wallet.Wallet
	recharges  []*wallet.Recharge
	deductions []*wallet.Deduction
}

func newFakeWalletRepo() *fakeWalletRepo {
	return &fakeWalletRepo{wallets: map[string]*wallet.Wallet{}}
}

func key(userID int64, kind wallet.Kind) string {
	return fmt.Sprintf("%s:%d", kind, userID)
}

func (f *fakeWalletRepo) GetOrCreateForUpdateWithTx(ctx context.Context, tx pgx.Tx, userID int64, kind wallet.Kind, currency string) (*wallet.Wallet, error) {
	k := key(userID, kind)
	if w, ok := f.wallets[k]; ok {
		return w, nil
	}
	f.nextID++
	w := &wallet.Wallet{ID: f.nextID, UserID: userID, Kind: kind, Currency: currency}
	f.wallets[k] = w
	return w, nil
}

func (f *fakeWalletRepo) Get(ctx context.Context, userID int64, kind wallet.Kind) (*wallet.Wallet, error) {
	if w, ok := f.wallets[key(userID, kind)]; ok {
		return w, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeWalletRepo) InsertRechargeWithTx(ctx context.Context, tx pgx.Tx, rec *wallet.Recharge) error {
	for _, existing := range f.recharges {
		if existing.Payment.GatewayTxnID != "" && existing.Payment.GatewayTxnID == rec.Payment.GatewayTxnID {
			return xerrors.ErrDuplicateEntry
		}
	}
	f.nextID++
	rec.ID = f.nextID
	f.recharges = append(f.recharges, rec)
	return nil
}

func (f *fakeWalletRepo) UpdateRechargePaymentWithTx(ctx context.Context, tx pgx.Tx, rec *wallet.Recharge) error {
	for i, existing := range f.recharges {
		if existing.ID == rec.ID {
			f.recharges[i] = rec
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (f *fakeWalletRepo) FindRechargeByGatewayTxnIDWithTx(ctx context.Context, tx pgx.Tx, txnID string) (*wallet.Recharge, error) {
	for _, rec := range f.recharges {
		if rec.Payment.GatewayTxnID == txnID {
			return rec, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeWalletRepo) InsertDeductionWithTx(ctx context.Context, tx pgx.Tx, d *wallet.Deduction) error {
	f.deductions = append(f.deductions, d)
	return nil
}

func (f *fakeWalletRepo) RecomputeBalanceWithTx(ctx context.Context, tx pgx.Tx, walletID int64) (int64, int64, error) {
	var balance, minutes int64
	for _, rec := range f.recharges {
		if rec.WalletID == walletID && rec.Payment.Status == period.PaymentSuccess {
			balance += rec.Amount
			minutes += rec.Minutes
		}
	}
	for _, d := range f.deductions {
		if d.WalletID == walletID {
			balance -= d.Amount
			minutes -= d.Minutes
		}
	}
	for _, w := range f.wallets {
		if w.ID == walletID {
			w.Balance = balance
			w.Minutes = minutes
		}
	}
	return balance, minutes, nil
}

func (f *fakeWalletRepo) ListRecharges(ctx context.Context, walletID int64, limit int) ([]wallet.Recharge, error) {
	out := []wallet.Recharge{}
	for _, rec := range f.recharges {
		if rec.WalletID == walletID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeWalletRepo) ListDeductions(ctx context.Context, walletID int64, limit int) ([]wallet.Deduction, error) {
	out := []wallet.Deduction{}
	for _, d := range f.deductions {
		if d.WalletID == walletID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeWithdrawalRepo struct {
	nextID   int64
	requests []*wallet.WithdrawalRequest
}

func (f *fakeWithdrawalRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, w *wallet.WithdrawalRequest) error {
	f.nextID++
	w.ID = f.nextID
	w.RequestedAt = time.Now()
	f.requests = append(f.requests, w)
	return nil
}

func (f *fakeWithdrawalRepo) SumNonRejectedSinceWithTx(ctx context.Context, tx pgx.Tx, userID int64, since time.Time) (int64, error) {
	var sum int64
	for _, r := range f.requests {
		if r.UserID == userID && r.Status != wallet.WithdrawalRejected && !r.RequestedAt.Before(since) {
			sum += r.Amount
		}
	}
	return sum, nil
}

func (f *fakeWithdrawalRepo) HasPendingWithTx(ctx context.Context, tx pgx.Tx, userID int64) (bool, error) {
	for _, r := range f.requests {
		if r.UserID == userID && r.Status == wallet.WithdrawalPending {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeWithdrawalRepo) FindByIDWithTx(ctx context.Context, tx pgx.Tx, id int64) (*wallet.WithdrawalRequest, error) {
	for _, r := range f.requests {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeWithdrawalRepo) UpdateStatusWithTx(ctx context.Context, tx pgx.Tx, id int64, status wallet.WithdrawalStatus, reason string) error {
	r, err := f.FindByIDWithTx(ctx, tx, id)
	if err != nil {
		return err
	}
	r.Status = status
	return nil
}

func (f *fakeWithdrawalRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]wallet.WithdrawalRequest, error) {
	out := []wallet.WithdrawalRequest{}
	for _, r := range f.requests {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

const dailyCap = 500000

func newTestService() (*Service, *fakeWalletRepo, *fakeWithdrawalRepo) {
	wallets := newFakeWalletRepo()
	withdrawals := &fakeWithdrawalRepo{}
	svc := NewService(fakeTxRunner{}, wallets, withdrawals, dailyCap, "INR", zap.NewNop())
	return svc, wallets, withdrawals
}

func successRecharge(txnID string, amount, minutes int64) *wallet.Recharge {
	return &wallet.Recharge{
		Amount:  amount,
		Minutes: minutes,
		Payment: period.PaymentRecord{
			GatewayTxnID: txnID,
			Status:       period.PaymentSuccess,
		},
	}
}

func TestCreditRecomputesBalance(t *testing.T) {
	svc, wallets, _ := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, successRecharge("pay_1", 10000, 0)))
	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, successRecharge("pay_2", 0, 60)))

	w, err := wallets.Get(context.Background(), 7, wallet.KindUser)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), w.Balance)
	assert.Equal(t, int64(60), w.Minutes)
}

func TestCreditDuplicateTxnRejected(t *testing.T) {
	svc, _, _ := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, successRecharge("pay_1", 10000, 0)))
	err := svc.Credit(context.Background(), nil, 7, wallet.KindUser, successRecharge("pay_1", 10000, 0))
	assert.ErrorIs(t, err, xerrors.ErrDuplicateEntry)
}

func TestCreditSettlesPendingRecharge(t *testing.T) {
	svc, wallets, _ := newTestService()

	pending := successRecharge("pay_1", 10000, 0)
	pending.Payment.Status = period.PaymentPending
	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, pending))

	// The same transaction settling later updates the existing row rather
	// than appending a second one against the unique index.
	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, successRecharge("pay_1", 10000, 0)))

	require.Len(t, wallets.recharges, 1)
	assert.Equal(t, period.PaymentSuccess, wallets.recharges[0].Payment.Status)

	w, err := wallets.Get(context.Background(), 7, wallet.KindUser)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), w.Balance)
}

func TestPendingRechargeDoesNotCount(t *testing.T) {
	svc, wallets, _ := newTestService()

	rec := successRecharge("pay_1", 10000, 0)
	rec.Payment.Status = period.PaymentPending
	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, rec))

	w, err := wallets.Get(context.Background(), 7, wallet.KindUser)
	require.NoError(t, err)
	assert.Zero(t, w.Balance)
}

func TestDebitInsufficientBalance(t *testing.T) {
	svc, _, _ := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindUser, successRecharge("pay_1", 5000, 0)))

	err := svc.Debit(context.Background(), 7, wallet.KindUser, 6000, 0, "call", "")
	assert.ErrorIs(t, err, xerrors.ErrInsufficientBalance)
}

func TestDebitValidatesInput(t *testing.T) {
	svc, _, _ := newTestService()

	assert.ErrorIs(t, svc.Debit(context.Background(), 7, wallet.KindUser, 0, 0, "call", ""), xerrors.ErrInvalidInput)
	assert.ErrorIs(t, svc.Debit(context.Background(), 7, wallet.KindUser, -5, 0, "call", ""), xerrors.ErrInvalidInput)
}

func TestStatementEmptyWallet(t *testing.T) {
	svc, _, _ := newTestService()

	st, err := svc.Statement(context.Background(), 99, wallet.KindUser)
	require.NoError(t, err)
	assert.Zero(t, st.Wallet.Balance)
	assert.Empty(t, st.Recharges)
	assert.Empty(t, st.Deductions)
}

func TestRequestWithdrawalChecks(t *testing.T) {
	svc, _, _ := newTestService()

	// No earning balance yet.
	_, err := svc.RequestWithdrawal(context.Background(), 7, 1000)
	assert.ErrorIs(t, err, xerrors.ErrInsufficientBalance)

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindEarning, successRecharge("ref_1", 100000, 0)))

	req, err := svc.RequestWithdrawal(context.Background(), 7, 40000)
	require.NoError(t, err)
	assert.Equal(t, wallet.WithdrawalPending, req.Status)

	// Second request while one is pending.
	_, err = svc.RequestWithdrawal(context.Background(), 7, 1000)
	assert.ErrorIs(t, err, xerrors.ErrPendingWithdrawal)
}

func TestRequestWithdrawalDailyCap(t *testing.T) {
	svc, _, withdrawals := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindEarning, successRecharge("ref_1", 2*dailyCap, 0)))

	// An approved withdrawal from earlier today still counts toward the cap.
	withdrawals.requests = append(withdrawals.requests, &wallet.WithdrawalRequest{
		ID:          99,
		UserID:      7,
		Amount:      dailyCap - 10000,
		Status:      wallet.WithdrawalApproved,
		RequestedAt: time.Now().Add(-2 * time.Hour),
	})

	_, err := svc.RequestWithdrawal(context.Background(), 7, 20000)
	var capErr *xerrors.DailyCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, int64(10000), capErr.Remaining)

	// Within the remaining allowance it goes through.
	_, err = svc.RequestWithdrawal(context.Background(), 7, 10000)
	require.NoError(t, err)
}

func TestRequestWithdrawalCapIgnoresRejected(t *testing.T) {
	svc, _, withdrawals := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindEarning, successRecharge("ref_1", 2*dailyCap, 0)))

	withdrawals.requests = append(withdrawals.requests, &wallet.WithdrawalRequest{
		ID:          99,
		UserID:      7,
		Amount:      dailyCap,
		Status:      wallet.WithdrawalRejected,
		RequestedAt: time.Now().Add(-2 * time.Hour),
	})

	_, err := svc.RequestWithdrawal(context.Background(), 7, dailyCap)
	require.NoError(t, err)
}

func TestApproveWithdrawalDebitsEarningWallet(t *testing.T) {
	svc, wallets, _ := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindEarning, successRecharge("ref_1", 100000, 0)))
	req, err := svc.RequestWithdrawal(context.Background(), 7, 40000)
	require.NoError(t, err)

	require.NoError(t, svc.ApproveWithdrawal(context.Background(), req.ID))

	w, err := wallets.Get(context.Background(), 7, wallet.KindEarning)
	require.NoError(t, err)
	assert.Equal(t, int64(60000), w.Balance)
	assert.Equal(t, wallet.WithdrawalApproved, req.Status)

	// Approving twice is a conflict, not a double debit.
	err = svc.ApproveWithdrawal(context.Background(), req.ID)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
	w, _ = wallets.Get(context.Background(), 7, wallet.KindEarning)
	assert.Equal(t, int64(60000), w.Balance)
}

func TestRejectWithdrawalKeepsBalance(t *testing.T) {
	svc, wallets, _ := newTestService()

	require.NoError(t, svc.Credit(context.Background(), nil, 7, wallet.KindEarning, successRecharge("ref_1", 100000, 0)))
	req, err := svc.RequestWithdrawal(context.Background(), 7, 40000)
	require.NoError(t, err)

	require.NoError(t, svc.RejectWithdrawal(context.Background(), req.ID, "bank details mismatch"))

	w, err := wallets.Get(context.Background(), 7, wallet.KindEarning)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), w.Balance)
	assert.Equal(t, wallet.WithdrawalRejected, req.Status)

	// Rejection frees the single-pending slot.
	_, err = svc.RequestWithdrawal(context.Background(), 7, 1000)
	require.NoError(t, err)
}
