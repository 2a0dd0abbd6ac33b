package domain

import (
	"context"
	"time"
)

// CreateFeeRequest carries a new fee and its line items. Items are
// positioned in slice order; their amounts must sum to TotalAmount.
type CreateFeeRequest struct {
	ApartmentID   int64
	ResidentID    int64
	FeeTypeID     int64
	BillingPeriod string
	DueDate       time.Time
	TotalAmount   int64
	CreatedBy     string
	Items         []CreateFeeItem
}

type CreateFeeItem struct {
	Description string
	Unit        string
	Quantity    int64
	UnitPrice   int64
	Amount      int64
}

// ListFeeFilter narrows List. Zero values are ignored.
type ListFeeFilter struct {
	ApartmentID   int64
	ResidentID    int64
	BillingPeriod string
	Statuses      []FeeStatus
	DueOn         *time.Time
	Limit         int
}

// Service is the ledger store. All fee mutation funnels through it; the
// reconciler and the scheduler are its only status-changing callers.
type Service interface {
	Create(ctx context.Context, req CreateFeeRequest) (*Fee, error)
	GetByID(ctx context.Context, id int64) (*Fee, []FeeItem, error)
	List(ctx context.Context, filter ListFeeFilter) ([]Fee, error)
	Cancel(ctx context.Context, id int64, cancelledBy string) error

	// TransitionOverdue recomputes status from the locked row and applies
	// the overdue transition if Next says so. Returns true when the row
	// changed.
	TransitionOverdue(ctx context.Context, id int64) (bool, error)
}
