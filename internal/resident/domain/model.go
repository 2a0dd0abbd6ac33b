// Package domain holds the resident rows the billing core consumes.
// Resident lifecycle is owned elsewhere; only lookups live here.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrResidentNotFound = errors.New("resident_not_found")

// Resident is the audience row for notification fan-out.
type Resident struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Email     string       `gorm:"type:text;not null"`
	Role      string       `gorm:"type:text;not null;index"`
	Active    bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Resident) TableName() string { return "residents" }

// Repository resolves notification audiences.
type Repository interface {
	ActiveResidents(ctx context.Context) ([]Resident, error)
	ByRole(ctx context.Context, role string) ([]Resident, error)

	// ByIDs returns ErrResidentNotFound when any requested id is missing
	// or inactive.
	ByIDs(ctx context.Context, ids []int64) ([]Resident, error)
}
