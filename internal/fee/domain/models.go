// Package domain contains persistence models for the fee ledger.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// FeeStatus represents fee lifecycle states.
type FeeStatus string

const (
	FeeStatusUnpaid        FeeStatus = "UNPAID"
	FeeStatusPartiallyPaid FeeStatus = "PARTIALLY_PAID"
	FeeStatusPaid          FeeStatus = "PAID"
	FeeStatusOverdue       FeeStatus = "OVERDUE"
	FeeStatusCancelled     FeeStatus = "CANCELLED"
)

// Fee represents one billable obligation for one apartment for one billing
// period. Amounts are fixed-point minor units. Status is derived; callers
// never set it directly.
//
// ActiveKey holds the (apartment, period, feeType) slot for every
// non-cancelled fee. Cancellation clears it; NULL rows never collide, so
// the unique index enforces at most one active fee per slot.
type Fee struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	ApartmentID   snowflake.ID      `gorm:"not null;index"`
	ResidentID    snowflake.ID      `gorm:"not null;index"`
	FeeTypeID     snowflake.ID      `gorm:"not null;index"`
	BillingPeriod string            `gorm:"type:text;not null;index"`
	DueDate       time.Time         `gorm:"not null;index"`
	TotalAmount   int64             `gorm:"not null"`
	AmountPaid    int64             `gorm:"not null;default:0"`
	Status        FeeStatus         `gorm:"type:text;not null;default:'UNPAID'"`
	ActiveKey     *string           `gorm:"type:text;uniqueIndex:ux_fee_active_key"`
	PaymentDate   *time.Time        `gorm:""`
	CreatedBy     string            `gorm:"type:text"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Fee) TableName() string { return "fees" }

// ActiveKey builds the uniqueness key for a non-cancelled fee.
func ActiveKey(apartmentID, feeTypeID snowflake.ID, billingPeriod string) string {
	return fmt.Sprintf("%s:%s:%s", apartmentID, billingPeriod, feeTypeID)
}

// FeeItem represents a line on a fee. The sum of line amounts equals the
// fee's total at creation time.
type FeeItem struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	FeeID       snowflake.ID `gorm:"not null;index"`
	Position    int          `gorm:"not null"`
	Description string       `gorm:"type:text"`
	Unit        string       `gorm:"type:text"`
	Quantity    int64        `gorm:"not null"`
	UnitPrice   int64        `gorm:"not null"`
	Amount      int64        `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeeItem) TableName() string { return "fee_items" }

// FeeType is the catalog of recurring charge kinds (utilities, parking,
// service charge).
type FeeType struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Unit      string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeeType) TableName() string { return "fee_types" }
