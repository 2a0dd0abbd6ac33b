package service

import (
	"context"
	"errors"
	"testing"
	"time"

	billingdomain "github.com/aptora/aptora/internal/billing/domain"
	"github.com/aptora/aptora/internal/clock"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	feeservice "github.com/aptora/aptora/internal/fee/service"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newGenerator(t *testing.T) (billingdomain.Service, feedomain.Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&feedomain.Fee{}, &feedomain.FeeItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2025, 11, 1, 6, 0, 0, 0, time.UTC))
	fees := feeservice.NewService(feeservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc})
	generator := NewService(Params{Log: zap.NewNop(), Fees: fees})
	return generator, fees
}

func readings() []billingdomain.MeterReading {
	return []billingdomain.MeterReading{
		{ApartmentID: 101, ResidentID: 201, Description: "Water", Unit: "m3", Consumption: 12, UnitPrice: 5000},
		{ApartmentID: 102, ResidentID: 202, Description: "Water", Unit: "m3", Consumption: 8, UnitPrice: 5000},
		{ApartmentID: 103, ResidentID: 203, Description: "Water", Unit: "m3", Consumption: 20, UnitPrice: 5000},
	}
}

func TestGenerateBatch(t *testing.T) {
	generator, fees := newGenerator(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	report, err := generator.Generate(ctx, "2025-11", 301, due, readings())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Created != 3 || report.Skipped != 0 || len(report.Failures) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	created, err := fees.List(ctx, feedomain.ListFeeFilter{BillingPeriod: "2025-11"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 fees, got %d", len(created))
	}
	for _, fee := range created {
		if fee.AmountPaid != 0 || fee.Status != feedomain.FeeStatusUnpaid {
			t.Fatalf("fee %s not pristine: paid=%d status=%s", fee.ID, fee.AmountPaid, fee.Status)
		}
	}
}

func TestGenerateBatchRerunSafe(t *testing.T) {
	generator, fees := newGenerator(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	if _, err := generator.Generate(ctx, "2025-11", 301, due, readings()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	report, err := generator.Generate(ctx, "2025-11", 301, due, readings())
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if report.Created != 0 || report.Skipped != 3 {
		t.Fatalf("rerun must skip everything: %+v", report)
	}

	created, err := fees.List(ctx, feedomain.ListFeeFilter{BillingPeriod: "2025-11"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("rerun duplicated fees: got %d", len(created))
	}
}

func TestGeneratePartialFailure(t *testing.T) {
	generator, fees := newGenerator(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	batch := readings()
	batch[1].Consumption = -5 // negative amount fails fee validation

	report, err := generator.Generate(ctx, "2025-11", 301, due, batch)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Created != 2 {
		t.Fatalf("expected 2 created, got %d", report.Created)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(report.Failures))
	}
	if report.Failures[0].ApartmentID != 102 {
		t.Fatalf("wrong failed apartment: %d", report.Failures[0].ApartmentID)
	}
	if !errors.Is(report.Failures[0].Err, feedomain.ErrInvalidTotal) {
		t.Fatalf("expected ErrInvalidTotal, got %v", report.Failures[0].Err)
	}

	created, err := fees.List(ctx, feedomain.ListFeeFilter{BillingPeriod: "2025-11"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 fees after partial failure, got %d", len(created))
	}
}

func TestGenerateValidation(t *testing.T) {
	generator, _ := newGenerator(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC)

	if _, err := generator.Generate(ctx, "2025-11", 301, due, nil); !errors.Is(err, billingdomain.ErrNoReadings) {
		t.Fatalf("expected ErrNoReadings, got %v", err)
	}
	if _, err := generator.Generate(ctx, "2025-11", 301, time.Time{}, readings()); !errors.Is(err, billingdomain.ErrInvalidDueDate) {
		t.Fatalf("expected ErrInvalidDueDate, got %v", err)
	}
	if _, err := generator.Generate(ctx, "nov", 301, due, readings()); !errors.Is(err, feedomain.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}
