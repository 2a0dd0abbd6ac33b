// Package domain contains the payment reconciliation contract.
package domain

import (
	"context"
	"errors"
	"time"

	feedomain "github.com/aptora/aptora/internal/fee/domain"
	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidAmount         = errors.New("payment_amount_must_be_positive")
	ErrMissingIdempotencyKey = errors.New("payment_idempotency_key_required")
	ErrFeeNotPayable         = errors.New("fee_not_payable")
)

const (
	MethodManual    = "manual"
	MethodWebhook   = "webhook"
	MethodSimulated = "simulated"
)

// PaymentRecord is the durable idempotency record for one payment
// application. The (fee_id, idempotency_key) pair is unique: a re-delivered
// webhook inserts nothing and the original result is returned instead.
//
// ResultingAmountPaid and ResultingStatus snapshot the fee right after this
// application, so a replayed key reports the original outcome even when
// later payments have moved the fee on.
type PaymentRecord struct {
	ID                  snowflake.ID        `gorm:"primaryKey"`
	FeeID               snowflake.ID        `gorm:"not null;index;uniqueIndex:ux_payment_fee_idem"`
	IdempotencyKey      string              `gorm:"type:text;not null;uniqueIndex:ux_payment_fee_idem"`
	Method              string              `gorm:"type:text;not null"`
	Amount              int64               `gorm:"not null"`
	AppliedAmount       int64               `gorm:"not null"`
	ResultingAmountPaid int64               `gorm:"not null;default:0"`
	ResultingStatus     feedomain.FeeStatus `gorm:"type:text;not null;default:''"`
	CreatedAt           time.Time           `gorm:"not null"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "payment_records" }

// ApplyResult reports the outcome of a payment application.
type ApplyResult struct {
	FeeID      snowflake.ID
	Status     feedomain.FeeStatus
	AmountPaid int64
	// Applied is the credited portion after clamping to the fee total.
	Applied int64
	// Duplicate is true when the idempotency key was already processed;
	// the rest of the result mirrors the original application.
	Duplicate bool
	// OverpaymentWarning is set when the received amount exceeded the
	// outstanding balance. The received amount stays on the payment record;
	// the fee's amount_paid is clamped.
	OverpaymentWarning bool
}

// Service applies payment events to fees.
type Service interface {
	ApplyPayment(ctx context.Context, feeID int64, amount int64, method, idempotencyKey string) (*ApplyResult, error)
}

// Notifier delivers the payment-confirmation notification. Best effort:
// a failure never rolls back the payment.
type Notifier interface {
	PaymentConfirmed(ctx context.Context, fee *feedomain.Fee) error
}
