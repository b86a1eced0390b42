package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict: resource already exists")
	ErrInternal       = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrOverlappingPeriod indicates the scheduler was asked to create a
	// period overlapping an existing one. This is an invariant violation,
	// the enclosing transaction must be rolled back.
	ErrOverlappingPeriod = errors.New("overlapping subscription period")

	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrPendingWithdrawal   = errors.New("a pending withdrawal request already exists")
)

// CouponReason is a stable machine-readable coupon rejection code.
type CouponReason string

const (
	CouponNotFound      CouponReason = "not_found"
	CouponInactive      CouponReason = "inactive"
	CouponExpired       CouponReason = "expired"
	CouponCapReached    CouponReason = "cap_reached"
	CouponStaffOnly     CouponReason = "staff_only"
	CouponAlreadyUsed   CouponReason = "already_used"
	CouponUserCapLimit  CouponReason = "user_cap_reached"
	CouponBelowMinimum  CouponReason = "below_minimum"
	CouponNotApplicable CouponReason = "not_applicable"
)

// CouponRejection is returned when a coupon fails validation. Callers may
// choose to proceed without the coupon, but must log the reason.
type CouponRejection struct {
	Code   string
	Reason CouponReason
}

func (e *CouponRejection) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// RejectCoupon builds a CouponRejection for a code and reason.
func RejectCoupon(code string, reason CouponReason) *CouponRejection {
	return &CouponRejection{Code: code, Reason: reason}
}

// AsCouponRejection unwraps err into a CouponRejection if it is one.
func AsCouponRejection(err error) (*CouponRejection, bool) {
	var rej *CouponRejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// GatewayError wraps a payment-gateway failure. Retryable errors (timeouts,
// transport faults) are safe to re-invoke because reconciliation is
// idempotent; non-retryable ones (signature mismatch, malformed response)
// are not.
type GatewayError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// DailyCapError rejects a withdrawal that would exceed the rolling daily cap.
// Remaining carries how much the user may still withdraw today.
type DailyCapError struct {
	Cap       int64
	Withdrawn int64
	Remaining int64
}

func (e *DailyCapError) Error() string {
	return fmt.Sprintf("daily withdrawal cap exceeded: remaining limit %d", e.Remaining)
}

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
