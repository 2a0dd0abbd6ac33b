package service

import (
	"context"
	"errors"
	"strings"

	"github.com/aptora/aptora/internal/clock"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	obsmetrics "github.com/aptora/aptora/internal/observability/metrics"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	"github.com/aptora/aptora/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Notifier paymentdomain.Notifier `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	notifier paymentdomain.Notifier
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		notifier: p.Notifier,
	}
}

// ApplyPayment credits amount against the fee identified by feeID, keyed by
// the caller-supplied idempotency key (bank transaction id for webhooks).
// The read of the current paid amount, the write, and the status transition
// happen in one transaction holding the fee row lock, so a manual entry
// racing a webhook serializes instead of interleaving.
func (s *Service) ApplyPayment(ctx context.Context, feeID int64, amount int64, method, idempotencyKey string) (*paymentdomain.ApplyResult, error) {
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, paymentdomain.ErrMissingIdempotencyKey
	}
	if method == "" {
		method = paymentdomain.MethodManual
	}

	now := s.clock.Now()
	var (
		result       paymentdomain.ApplyResult
		becamePaid   bool
		confirmedFee *feedomain.Fee
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &paymentdomain.PaymentRecord{
			ID:             s.genID.Generate(),
			FeeID:          snowflake.ID(feeID),
			IdempotencyKey: idempotencyKey,
			Method:         method,
			Amount:         amount,
			CreatedAt:      now,
		}
		if err := tx.Create(record).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errAlreadyApplied
			}
			return err
		}

		fee, err := lockFee(ctx, tx, feeID)
		if err != nil {
			return err
		}
		if fee == nil {
			return feedomain.ErrFeeNotFound
		}
		if fee.Status == feedomain.FeeStatusCancelled {
			return paymentdomain.ErrFeeNotPayable
		}

		outstanding := fee.TotalAmount - fee.AmountPaid
		applied := amount
		if applied > outstanding {
			applied = outstanding
			result.OverpaymentWarning = true
		}

		newPaid := fee.AmountPaid + applied
		next := feedomain.Next(fee.Status, fee.TotalAmount, newPaid, fee.DueDate, now)

		if err := tx.Exec(
			`UPDATE fees
			 SET amount_paid = ?,
			     status = ?,
			     payment_date = CASE WHEN ? AND payment_date IS NULL THEN ? ELSE payment_date END,
			     updated_at = ?
			 WHERE id = ?`,
			newPaid,
			next,
			next == feedomain.FeeStatusPaid,
			now,
			now,
			feeID,
		).Error; err != nil {
			return err
		}
		if err := tx.Model(record).Updates(map[string]interface{}{
			"applied_amount":        applied,
			"resulting_amount_paid": newPaid,
			"resulting_status":      next,
		}).Error; err != nil {
			return err
		}

		if next != fee.Status {
			obsmetrics.Scheduler().IncFeeTransition(string(fee.Status), string(next))
		}
		becamePaid = next == feedomain.FeeStatusPaid && fee.Status != feedomain.FeeStatusPaid

		result.FeeID = fee.ID
		result.Status = next
		result.AmountPaid = newPaid
		result.Applied = applied

		fee.AmountPaid = newPaid
		fee.Status = next
		confirmedFee = fee
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return s.originalResult(ctx, feeID, idempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("payment.applied",
		zap.String("fee_id", result.FeeID.String()),
		zap.String("idempotency_key", idempotencyKey),
		zap.String("method", method),
		zap.Int64("amount", amount),
		zap.Int64("applied", result.Applied),
		zap.String("status", string(result.Status)),
		zap.Bool("overpayment", result.OverpaymentWarning),
	)
	if result.OverpaymentWarning {
		s.log.Warn("payment.overpayment_clamped",
			zap.String("fee_id", result.FeeID.String()),
			zap.Int64("received", amount),
			zap.Int64("applied", result.Applied),
		)
	}

	if becamePaid && s.notifier != nil {
		if err := s.notifier.PaymentConfirmed(ctx, confirmedFee); err != nil {
			s.log.Warn("payment.confirmation_notify_failed",
				zap.String("fee_id", result.FeeID.String()),
				zap.Error(err),
			)
		}
	}

	return &result, nil
}

// originalResult rebuilds the response for a re-delivered key from the
// stored record alone, so the reply mirrors the original application even
// when later payments have changed the fee since.
func (s *Service) originalResult(ctx context.Context, feeID int64, idempotencyKey string) (*paymentdomain.ApplyResult, error) {
	var record paymentdomain.PaymentRecord
	err := s.db.WithContext(ctx).
		Where("fee_id = ? AND idempotency_key = ?", feeID, idempotencyKey).
		First(&record).Error
	if err != nil {
		return nil, err
	}

	s.log.Info("payment.duplicate_ignored",
		zap.String("fee_id", record.FeeID.String()),
		zap.String("idempotency_key", idempotencyKey),
	)
	return &paymentdomain.ApplyResult{
		FeeID:              record.FeeID,
		Status:             record.ResultingStatus,
		AmountPaid:         record.ResultingAmountPaid,
		Applied:            record.AppliedAmount,
		Duplicate:          true,
		OverpaymentWarning: record.AppliedAmount < record.Amount,
	}, nil
}

func lockFee(ctx context.Context, tx *gorm.DB, id int64) (*feedomain.Fee, error) {
	var fee feedomain.Fee
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM fees WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&fee).Error
	if err != nil {
		return nil, err
	}
	if fee.ID == 0 {
		return nil, nil
	}
	return &fee, nil
}

var errAlreadyApplied = errors.New("payment_already_applied")
