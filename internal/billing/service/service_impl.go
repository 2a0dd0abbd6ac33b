package service

import (
	"context"
	"errors"
	"time"

	billingdomain "github.com/aptora/aptora/internal/billing/domain"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log  *zap.Logger
	Fees feedomain.Service
}

type Service struct {
	log  *zap.Logger
	fees feedomain.Service
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		log:  p.Log.Named("billing.service"),
		fees: p.Fees,
	}
}

// Generate bills every reading for the period. Duplicate-fee creation is
// the rerun signal, not an error: an apartment that already carries an
// active fee for (period, feeType) is counted as skipped, so replaying the
// same batch after a partial failure only fills the gaps.
func (s *Service) Generate(ctx context.Context, period string, feeTypeID int64, dueDate time.Time, readings []billingdomain.MeterReading) (*billingdomain.Report, error) {
	if len(readings) == 0 {
		return nil, billingdomain.ErrNoReadings
	}
	if dueDate.IsZero() {
		return nil, billingdomain.ErrInvalidDueDate
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return nil, feedomain.ErrInvalidPeriod
	}

	report := &billingdomain.Report{Period: period}
	for _, reading := range readings {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		_, err := s.fees.Create(ctx, buildRequest(period, feeTypeID, dueDate, reading))
		switch {
		case err == nil:
			report.Created++
		case errors.Is(err, feedomain.ErrDuplicateFee):
			report.Skipped++
		default:
			report.Failures = append(report.Failures, billingdomain.ReadingFailure{
				ApartmentID: reading.ApartmentID,
				Err:         err,
			})
			s.log.Warn("billing.reading_failed",
				zap.String("period", period),
				zap.Int64("apartment_id", reading.ApartmentID),
				zap.Error(err),
			)
		}
	}

	s.log.Info("billing.batch_generated",
		zap.String("period", period),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
	)
	return report, nil
}

func buildRequest(period string, feeTypeID int64, dueDate time.Time, reading billingdomain.MeterReading) feedomain.CreateFeeRequest {
	amount := reading.Consumption * reading.UnitPrice
	return feedomain.CreateFeeRequest{
		ApartmentID:   reading.ApartmentID,
		ResidentID:    reading.ResidentID,
		FeeTypeID:     feeTypeID,
		BillingPeriod: period,
		DueDate:       dueDate,
		TotalAmount:   amount,
		CreatedBy:     "billing.generator",
		Items: []feedomain.CreateFeeItem{
			{
				Description: reading.Description,
				Unit:        reading.Unit,
				Quantity:    reading.Consumption,
				UnitPrice:   reading.UnitPrice,
				Amount:      amount,
			},
		},
	}
}
