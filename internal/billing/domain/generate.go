// Package domain contains the batch invoice generation contract.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoReadings     = errors.New("billing_no_readings")
	ErrInvalidDueDate = errors.New("billing_invalid_due_date")
)

// MeterReading is one apartment's consumption for a billing period. The
// generator turns each reading into a fee with a single computed line item.
type MeterReading struct {
	ApartmentID int64
	ResidentID  int64
	Description string
	Unit        string
	Consumption int64
	UnitPrice   int64
}

// ReadingFailure records one reading the generator could not bill.
type ReadingFailure struct {
	ApartmentID int64
	Err         error
}

// Report summarizes one generation batch. Skipped counts apartments that
// already had an active fee for the period; a rerun of the same batch
// reports everything as skipped and creates nothing.
type Report struct {
	Period   string
	Created  int
	Skipped  int
	Failures []ReadingFailure
}

// Service generates one fee per reading. Each reading is billed in its own
// unit of work; a failed reading never aborts the rest of the batch.
type Service interface {
	Generate(ctx context.Context, period string, feeTypeID int64, dueDate time.Time, readings []MeterReading) (*Report, error)
}
