package domain

import (
	"errors"
	"time"
)

var (
	ErrFeeNotFound       = errors.New("fee_not_found")
	ErrDuplicateFee      = errors.New("fee_already_exists_for_period")
	ErrLineItemsMismatch = errors.New("fee_items_do_not_sum_to_total")
	ErrNoLineItems       = errors.New("fee_has_no_line_items")
	ErrInvalidTotal      = errors.New("fee_total_must_be_non_negative")
	ErrInvalidPeriod     = errors.New("invalid_billing_period")
	ErrFeeCancelled      = errors.New("fee_cancelled")
	ErrFeeAlreadyPaid    = errors.New("fee_already_paid")
)

// Next is the single source of truth for fee status. It is pure: the
// reconciler and the scheduler both call it against a freshly-read row
// instead of special-casing overdue logic.
//
// Payment always wins over overdue. A partial payment keeps the fee at
// PARTIALLY_PAID even past the due date; reporting reads the due date
// directly for the overdue flag in that case. Overdue compares calendar
// days: a fee due today is not yet overdue.
func Next(current FeeStatus, totalAmount, amountPaid int64, dueDate, now time.Time) FeeStatus {
	switch current {
	case FeeStatusCancelled:
		return FeeStatusCancelled
	case FeeStatusPaid:
		return FeeStatusPaid
	}

	switch {
	case amountPaid >= totalAmount:
		return FeeStatusPaid
	case amountPaid > 0:
		return FeeStatusPartiallyPaid
	case dayOf(now).After(dayOf(dueDate)):
		return FeeStatusOverdue
	default:
		return FeeStatusUnpaid
	}
}

// CanCancel reports whether a fee may transition to CANCELLED. Cancellation
// is a status, not a row delete, and PAID is terminal.
func CanCancel(current FeeStatus) error {
	switch current {
	case FeeStatusPaid:
		return ErrFeeAlreadyPaid
	case FeeStatusCancelled:
		return ErrFeeCancelled
	default:
		return nil
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
