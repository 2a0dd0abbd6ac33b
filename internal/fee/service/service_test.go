package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aptora/aptora/internal/clock"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stripForUpdate(t, db)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&feedomain.FeeType{}, &feedomain.Fee{}, &feedomain.FeeItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// sqlite has no FOR UPDATE; drop the clause so the row-lock queries run.
func stripForUpdate(t *testing.T, db *gorm.DB) {
	t.Helper()
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", strip); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", strip); err != nil {
		t.Fatalf("register row callback: %v", err)
	}
}

func newTestService(t *testing.T) (feedomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2025, 11, 5, 8, 0, 0, 0, time.UTC))
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc})
	return svc, fc, db
}

func createRequest(due time.Time) feedomain.CreateFeeRequest {
	return feedomain.CreateFeeRequest{
		ApartmentID:   101,
		ResidentID:    201,
		FeeTypeID:     301,
		BillingPeriod: "2025-11",
		DueDate:       due,
		TotalAmount:   150000,
		CreatedBy:     "test",
		Items: []feedomain.CreateFeeItem{
			{Description: "Water", Unit: "m3", Quantity: 10, UnitPrice: 5000, Amount: 50000},
			{Description: "Service charge", Quantity: 1, UnitPrice: 100000, Amount: 100000},
		},
	}
}

func TestCreateFee(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	fee, err := svc.Create(ctx, createRequest(due))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if fee.Status != feedomain.FeeStatusUnpaid {
		t.Fatalf("expected UNPAID, got %s", fee.Status)
	}

	got, items, err := svc.GetByID(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalAmount != 150000 || got.AmountPaid != 0 {
		t.Fatalf("unexpected amounts: total=%d paid=%d", got.TotalAmount, got.AmountPaid)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Position != 1 || items[1].Position != 2 {
		t.Fatalf("items out of order: %d, %d", items[0].Position, items[1].Position)
	}
}

func TestCreateFeeValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	req := createRequest(due)
	req.BillingPeriod = "november"
	if _, err := svc.Create(ctx, req); !errors.Is(err, feedomain.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}

	req = createRequest(due)
	req.Items = nil
	if _, err := svc.Create(ctx, req); !errors.Is(err, feedomain.ErrNoLineItems) {
		t.Fatalf("expected ErrNoLineItems, got %v", err)
	}

	req = createRequest(due)
	req.Items[0].Amount = 49999
	if _, err := svc.Create(ctx, req); !errors.Is(err, feedomain.ErrLineItemsMismatch) {
		t.Fatalf("expected ErrLineItemsMismatch, got %v", err)
	}

	req = createRequest(due)
	req.TotalAmount = -1
	if _, err := svc.Create(ctx, req); !errors.Is(err, feedomain.ErrInvalidTotal) {
		t.Fatalf("expected ErrInvalidTotal, got %v", err)
	}
}

func TestCreateFeeDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	first, err := svc.Create(ctx, createRequest(due))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, createRequest(due)); !errors.Is(err, feedomain.ErrDuplicateFee) {
		t.Fatalf("expected ErrDuplicateFee, got %v", err)
	}

	// A cancelled fee no longer blocks the slot.
	if err := svc.Cancel(ctx, int64(first.ID), "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Create(ctx, createRequest(due)); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestCreateFeeDuplicateKeyGuard(t *testing.T) {
	svc, fc, db := newTestService(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	// A racing create that committed between the duplicate count and the
	// insert: cancelled status hides it from the count query while its
	// active key still holds the slot, so only the unique index rejects
	// the second insert.
	key := feedomain.ActiveKey(snowflake.ID(101), snowflake.ID(301), "2025-11")
	ghost := feedomain.Fee{
		ID:            snowflake.ID(424242),
		ApartmentID:   101,
		ResidentID:    201,
		FeeTypeID:     301,
		BillingPeriod: "2025-11",
		DueDate:       due,
		TotalAmount:   150000,
		Status:        feedomain.FeeStatusCancelled,
		ActiveKey:     &key,
		CreatedAt:     fc.Now(),
		UpdatedAt:     fc.Now(),
	}
	if err := db.Create(&ghost).Error; err != nil {
		t.Fatalf("seed ghost fee: %v", err)
	}

	if _, err := svc.Create(ctx, createRequest(due)); !errors.Is(err, feedomain.ErrDuplicateFee) {
		t.Fatalf("expected ErrDuplicateFee from the unique index, got %v", err)
	}
}

func TestCancelFee(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	fee, err := svc.Create(ctx, createRequest(due))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Cancel(ctx, int64(fee.ID), "admin"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _, err := svc.GetByID(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != feedomain.FeeStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}

	if err := svc.Cancel(ctx, int64(fee.ID), "admin"); !errors.Is(err, feedomain.ErrFeeCancelled) {
		t.Fatalf("expected ErrFeeCancelled, got %v", err)
	}
	if err := svc.Cancel(ctx, 999999, "admin"); !errors.Is(err, feedomain.ErrFeeNotFound) {
		t.Fatalf("expected ErrFeeNotFound, got %v", err)
	}
}

func TestTransitionOverdue(t *testing.T) {
	svc, fc, _ := newTestService(t)
	ctx := context.Background()
	due := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

	fee, err := svc.Create(ctx, createRequest(due))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Due day itself is not overdue.
	fc.Set(time.Date(2025, 11, 10, 23, 0, 0, 0, time.UTC))
	updated, err := svc.TransitionOverdue(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated {
		t.Fatal("fee due today must not become overdue")
	}

	fc.Set(time.Date(2025, 11, 11, 8, 0, 0, 0, time.UTC))
	updated, err = svc.TransitionOverdue(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !updated {
		t.Fatal("expected overdue transition")
	}

	got, _, err := svc.GetByID(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != feedomain.FeeStatusOverdue {
		t.Fatalf("expected OVERDUE, got %s", got.Status)
	}

	// Second pass is a no-op.
	updated, err = svc.TransitionOverdue(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated {
		t.Fatal("second transition must be a no-op")
	}
}

func TestListFees(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	due1 := time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)
	due2 := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)

	if _, err := svc.Create(ctx, createRequest(due1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := createRequest(due2)
	req.ApartmentID = 102
	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	fees, err := svc.List(ctx, feedomain.ListFeeFilter{BillingPeriod: "2025-11"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fees) != 2 {
		t.Fatalf("expected 2 fees, got %d", len(fees))
	}

	fees, err = svc.List(ctx, feedomain.ListFeeFilter{DueOn: &due1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fees) != 1 {
		t.Fatalf("expected 1 fee due on %s, got %d", due1.Format("2006-01-02"), len(fees))
	}
}
