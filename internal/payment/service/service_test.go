package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aptora/aptora/internal/clock"
	feedomain "github.com/aptora/aptora/internal/fee/domain"
	feeservice "github.com/aptora/aptora/internal/fee/service"
	paymentdomain "github.com/aptora/aptora/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	fees     feedomain.Service
	payments paymentdomain.Service
	notifier *captureNotifier
}

type captureNotifier struct {
	mu        sync.Mutex
	confirmed []snowflake.ID
	err       error
}

func (n *captureNotifier) PaymentConfirmed(ctx context.Context, fee *feedomain.Fee) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.confirmed = append(n.confirmed, fee.ID)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	strip := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("strip_for_update", strip); err != nil {
		t.Fatalf("register callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("strip_for_update_row", strip); err != nil {
		t.Fatalf("register callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&feedomain.Fee{},
		&feedomain.FeeItem{},
		&paymentdomain.PaymentRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fc := clock.NewFakeClock(time.Date(2025, 11, 5, 9, 0, 0, 0, time.UTC))
	notifier := &captureNotifier{}

	return &fixture{
		db:    db,
		clock: fc,
		fees:  feeservice.NewService(feeservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fc}),
		payments: NewService(Params{
			DB:       db,
			Log:      zap.NewNop(),
			GenID:    node,
			Clock:    fc,
			Notifier: notifier,
		}),
		notifier: notifier,
	}
}

func (f *fixture) createFee(t *testing.T, total int64) *feedomain.Fee {
	t.Helper()
	fee, err := f.fees.Create(context.Background(), feedomain.CreateFeeRequest{
		ApartmentID:   101,
		ResidentID:    201,
		FeeTypeID:     301,
		BillingPeriod: "2025-11",
		DueDate:       time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
		TotalAmount:   total,
		CreatedBy:     "test",
		Items: []feedomain.CreateFeeItem{
			{Description: "Rent", Quantity: 1, UnitPrice: total, Amount: total},
		},
	})
	if err != nil {
		t.Fatalf("create fee: %v", err)
	}
	return fee
}

func TestApplyPaymentPartialThenFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 100000)

	result, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 40000, paymentdomain.MethodManual, "txn-1")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != feedomain.FeeStatusPartiallyPaid || result.AmountPaid != 40000 {
		t.Fatalf("unexpected result: status=%s paid=%d", result.Status, result.AmountPaid)
	}
	if len(f.notifier.confirmed) != 0 {
		t.Fatal("no confirmation expected before full payment")
	}

	result, err = f.payments.ApplyPayment(ctx, int64(fee.ID), 60000, paymentdomain.MethodWebhook, "txn-2")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.Status != feedomain.FeeStatusPaid || result.AmountPaid != 100000 {
		t.Fatalf("unexpected result: status=%s paid=%d", result.Status, result.AmountPaid)
	}

	got, _, err := f.fees.GetByID(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PaymentDate == nil {
		t.Fatal("payment date must be set on full payment")
	}
	if len(f.notifier.confirmed) != 1 || f.notifier.confirmed[0] != fee.ID {
		t.Fatalf("expected one confirmation for %s, got %v", fee.ID, f.notifier.confirmed)
	}
}

func TestApplyPaymentIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 100000)

	first, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 100000, paymentdomain.MethodWebhook, "bank-tx-9")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first application must not be a duplicate")
	}

	// The bank re-delivers the same event.
	second, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 100000, paymentdomain.MethodWebhook, "bank-tx-9")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("replay must be flagged duplicate")
	}
	if second.AmountPaid != 100000 {
		t.Fatalf("replay must not credit again, paid=%d", second.AmountPaid)
	}

	got, _, err := f.fees.GetByID(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AmountPaid != 100000 {
		t.Fatalf("amount credited twice: %d", got.AmountPaid)
	}

	var records int64
	if err := f.db.Model(&paymentdomain.PaymentRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected 1 payment record, got %d", records)
	}
	if len(f.notifier.confirmed) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(f.notifier.confirmed))
	}
}

func TestReplayReportsOriginalOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 100000)

	first, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 40000, paymentdomain.MethodWebhook, "tx-a")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if first.Status != feedomain.FeeStatusPartiallyPaid {
		t.Fatalf("expected PARTIALLY_PAID, got %s", first.Status)
	}
	if _, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 60000, paymentdomain.MethodWebhook, "tx-b"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The first key is re-delivered after the fee reached PAID. The reply
	// must mirror the first application, not the current fee row.
	replay, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 40000, paymentdomain.MethodWebhook, "tx-a")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Duplicate {
		t.Fatal("replay must be flagged duplicate")
	}
	if replay.Status != feedomain.FeeStatusPartiallyPaid || replay.AmountPaid != 40000 {
		t.Fatalf("replay diverged from original: status=%s paid=%d", replay.Status, replay.AmountPaid)
	}
	if replay.Applied != 40000 {
		t.Fatalf("replay applied amount wrong: %d", replay.Applied)
	}

	got, _, err := f.fees.GetByID(ctx, int64(fee.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != feedomain.FeeStatusPaid || got.AmountPaid != 100000 {
		t.Fatalf("fee row changed by replay: status=%s paid=%d", got.Status, got.AmountPaid)
	}
}

func TestApplyPaymentOverpaymentClamped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 50000)

	result, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 80000, paymentdomain.MethodWebhook, "tx-over")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.OverpaymentWarning {
		t.Fatal("expected overpayment warning")
	}
	if result.Applied != 50000 || result.AmountPaid != 50000 {
		t.Fatalf("clamp failed: applied=%d paid=%d", result.Applied, result.AmountPaid)
	}
	if result.Status != feedomain.FeeStatusPaid {
		t.Fatalf("expected PAID, got %s", result.Status)
	}

	// The record keeps the received amount for reconciliation.
	var record paymentdomain.PaymentRecord
	if err := f.db.First(&record, "idempotency_key = ?", "tx-over").Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Amount != 80000 || record.AppliedAmount != 50000 {
		t.Fatalf("record amounts wrong: received=%d applied=%d", record.Amount, record.AppliedAmount)
	}
}

func TestApplyPaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 50000)

	if _, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 0, "", "k"); !errors.Is(err, paymentdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 100, "", "  "); !errors.Is(err, paymentdomain.ErrMissingIdempotencyKey) {
		t.Fatalf("expected ErrMissingIdempotencyKey, got %v", err)
	}
	if _, err := f.payments.ApplyPayment(ctx, 424242, 100, "", "k"); !errors.Is(err, feedomain.ErrFeeNotFound) {
		t.Fatalf("expected ErrFeeNotFound, got %v", err)
	}
}

func TestApplyPaymentToCancelledFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 50000)

	if err := f.fees.Cancel(ctx, int64(fee.ID), "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 100, "", "k"); !errors.Is(err, paymentdomain.ErrFeeNotPayable) {
		t.Fatalf("expected ErrFeeNotPayable, got %v", err)
	}
}

func TestConfirmationFailureDoesNotFailPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fee := f.createFee(t, 50000)
	f.notifier.err = errors.New("smtp down")

	result, err := f.payments.ApplyPayment(ctx, int64(fee.ID), 50000, "", "tx-1")
	if err != nil {
		t.Fatalf("apply must not fail on notifier error: %v", err)
	}
	if result.Status != feedomain.FeeStatusPaid {
		t.Fatalf("expected PAID, got %s", result.Status)
	}
}
