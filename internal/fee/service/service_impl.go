package service

import (
	"context"
	"errors"
	"time"

	"github.com/aptora/aptora/internal/clock"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	obsmetrics "github.com/aptora/aptora/internal/observability/metrics"
	"github.com/aptora/aptora/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) feedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("fee.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req feedomain.CreateFeeRequest) (*feedomain.Fee, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	activeKey := feedomain.ActiveKey(snowflake.ID(req.ApartmentID), snowflake.ID(req.FeeTypeID), req.BillingPeriod)
	fee := &feedomain.Fee{
		ID:            s.genID.Generate(),
		ApartmentID:   snowflake.ID(req.ApartmentID),
		ResidentID:    snowflake.ID(req.ResidentID),
		FeeTypeID:     snowflake.ID(req.FeeTypeID),
		BillingPeriod: req.BillingPeriod,
		DueDate:       req.DueDate.UTC(),
		TotalAmount:   req.TotalAmount,
		AmountPaid:    0,
		Status:        feedomain.Next(feedomain.FeeStatusUnpaid, req.TotalAmount, 0, req.DueDate, now),
		ActiveKey:     &activeKey,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	items := make([]feedomain.FeeItem, 0, len(req.Items))
	for i, item := range req.Items {
		items = append(items, feedomain.FeeItem{
			ID:          s.genID.Generate(),
			FeeID:       fee.ID,
			Position:    i + 1,
			Description: item.Description,
			Unit:        item.Unit,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
			CreatedAt:   now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Raw(
			`SELECT COUNT(1) FROM fees
			 WHERE apartment_id = ? AND billing_period = ? AND fee_type_id = ?
			   AND status <> ?`,
			fee.ApartmentID,
			fee.BillingPeriod,
			fee.FeeTypeID,
			feedomain.FeeStatusCancelled,
		).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return feedomain.ErrDuplicateFee
		}
		// The active-key unique index is the authority; the count above is
		// only the friendly fast path. A racing create that committed in
		// between lands here.
		if err := tx.Create(fee).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return feedomain.ErrDuplicateFee
			}
			return err
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("fee.created",
		zap.String("fee_id", fee.ID.String()),
		zap.String("apartment_id", fee.ApartmentID.String()),
		zap.String("billing_period", fee.BillingPeriod),
		zap.Int64("total_amount", fee.TotalAmount),
	)
	return fee, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*feedomain.Fee, []feedomain.FeeItem, error) {
	var fee feedomain.Fee
	err := s.db.WithContext(ctx).First(&fee, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, feedomain.ErrFeeNotFound
		}
		return nil, nil, err
	}

	var items []feedomain.FeeItem
	if err := s.db.WithContext(ctx).
		Where("fee_id = ?", id).
		Order("position ASC").
		Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &fee, items, nil
}

func (s *Service) List(ctx context.Context, filter feedomain.ListFeeFilter) ([]feedomain.Fee, error) {
	query := s.db.WithContext(ctx).Model(&feedomain.Fee{})
	if filter.ApartmentID != 0 {
		query = query.Where("apartment_id = ?", filter.ApartmentID)
	}
	if filter.ResidentID != 0 {
		query = query.Where("resident_id = ?", filter.ResidentID)
	}
	if filter.BillingPeriod != "" {
		query = query.Where("billing_period = ?", filter.BillingPeriod)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.DueOn != nil {
		day := filter.DueOn.UTC().Truncate(24 * time.Hour)
		query = query.Where("due_date >= ? AND due_date < ?", day, day.Add(24*time.Hour))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var fees []feedomain.Fee
	if err := query.Order("due_date ASC, id ASC").Find(&fees).Error; err != nil {
		return nil, err
	}
	return fees, nil
}

func (s *Service) Cancel(ctx context.Context, id int64, cancelledBy string) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fee, err := lockFee(ctx, tx, id)
		if err != nil {
			return err
		}
		if fee == nil {
			return feedomain.ErrFeeNotFound
		}
		if err := feedomain.CanCancel(fee.Status); err != nil {
			return err
		}

		// Paid amount is preserved through cancellation. Clearing the
		// active key frees the (apartment, period, feeType) slot for a
		// replacement fee.
		result := tx.Exec(
			`UPDATE fees
			 SET status = ?, active_key = NULL, updated_at = ?
			 WHERE id = ? AND status NOT IN (?, ?)`,
			feedomain.FeeStatusCancelled,
			now,
			id,
			feedomain.FeeStatusPaid,
			feedomain.FeeStatusCancelled,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			obsmetrics.Scheduler().IncFeeTransition(string(fee.Status), string(feedomain.FeeStatusCancelled))
			s.log.Info("fee.cancelled",
				zap.String("fee_id", fee.ID.String()),
				zap.String("cancelled_by", cancelledBy),
			)
		}
		return nil
	})
}

func (s *Service) TransitionOverdue(ctx context.Context, id int64) (bool, error) {
	now := s.clock.Now()
	updated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fee, err := lockFee(ctx, tx, id)
		if err != nil {
			return err
		}
		if fee == nil {
			return feedomain.ErrFeeNotFound
		}

		next := feedomain.Next(fee.Status, fee.TotalAmount, fee.AmountPaid, fee.DueDate, now)
		if next != feedomain.FeeStatusOverdue || fee.Status == next {
			return nil
		}

		result := tx.Exec(
			`UPDATE fees
			 SET status = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND amount_paid = 0`,
			feedomain.FeeStatusOverdue,
			now,
			id,
			fee.Status,
		)
		if result.Error != nil {
			return result.Error
		}
		updated = result.RowsAffected > 0
		if updated {
			obsmetrics.Scheduler().IncFeeTransition(string(fee.Status), string(feedomain.FeeStatusOverdue))
		}
		return nil
	})
	return updated, err
}

// lockFee reads the fee row under a row lock so status recomputation never
// works from a stale copy.
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

func validateCreate(req feedomain.CreateFeeRequest) error {
	if _, err := time.Parse("2006-01", req.BillingPeriod); err != nil {
		return feedomain.ErrInvalidPeriod
	}
	if req.TotalAmount < 0 {
		return feedomain.ErrInvalidTotal
	}
	if len(req.Items) == 0 {
		return feedomain.ErrNoLineItems
	}
	var sum int64
	for _, item := range req.Items {
		sum += item.Amount
	}
	if sum != req.TotalAmount {
		return feedomain.ErrLineItemsMismatch
	}
	return nil
}
