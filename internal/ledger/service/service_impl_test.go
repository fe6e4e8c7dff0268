package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/roteiro/internal/clock"
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/roteiro/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/roteiro/internal/ledger/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

const userID = "6f1c7a52-0c55-4a8e-9f0e-6d6d2b0d8a11"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.Transaction{},
		&ledgerdomain.Commission{},
		&ledgerdomain.Subscription{},
	))
	return db
}

type harness struct {
	db    *gorm.DB
	svc   ledgerdomain.Service
	clock *clock.FakeClock
}

func newHarness(t *testing.T, repo ledgerdomain.Repository) harness {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	if repo == nil {
		repo = ledgerrepo.Provide()
	}
	fake := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Rates: commissiondomain.StaticRates{Table: commissiondomain.DefaultRateTable()},
		Repo:  repo,
	})
	return harness{db: db, svc: svc, clock: fake}
}

func (h harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func strPtr(v string) *string { return &v }

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

func saleRequest(eventID string) ledgerdomain.SalePaymentRequest {
	return ledgerdomain.SalePaymentRequest{
		UserID:               userID,
		Gross:                dec("199.90"),
		Currency:             "BRL",
		Gateway:              "stripe",
		GatewayEventID:       eventID,
		GatewayTransactionID: "pi_" + eventID,
		ProductType:          commissiondomain.ProductTypeTour,
	}
}

func subscriptionRequest(eventID, subscriptionID string, affiliateID *string) ledgerdomain.SubscriptionCreatedRequest {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return ledgerdomain.SubscriptionCreatedRequest{
		UserID:                userID,
		PlanID:                "premium",
		Interval:              ledgerdomain.BillingIntervalMonthly,
		GatewaySubscriptionID: subscriptionID,
		GatewayCustomerID:     "cus_1",
		PeriodStart:           start,
		PeriodEnd:             start.AddDate(0, 1, 0),
		Amount:                dec("100.00"),
		Currency:              "brl",
		Gateway:               "stripe",
		GatewayEventID:        eventID,
		GatewayTransactionID:  "in_" + eventID,
		AffiliateID:           affiliateID,
	}
}

func TestRecordSalePaymentWithoutAffiliate(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.svc.RecordSalePayment(context.Background(), saleRequest("evt_sale_1"))
	require.NoError(t, err)
	require.NotNil(t, result.Transaction)

	tx := result.Transaction
	assert.Equal(t, ledgerdomain.TransactionKindSale, tx.Kind)
	assert.Equal(t, ledgerdomain.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, "brl", tx.Currency)
	assertDecimal(t, "5.80", tx.GatewayFee)
	assertDecimal(t, "194.10", tx.NetAmount)
	assertDecimal(t, "0", tx.AffiliateCommission)
	assert.Nil(t, tx.AffiliateID)
	assert.Nil(t, result.Commission)
	assert.False(t, result.Duplicate)

	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Commission{}))
}

func TestRecordSalePaymentWithAffiliateUsesDirectRate(t *testing.T) {
	h := newHarness(t, nil)

	req := saleRequest("evt_sale_2")
	req.Gross = dec("100.00")
	req.AffiliateID = strPtr("aff-1")
	req.SaleID = strPtr("sale-1")

	result, err := h.svc.RecordSalePayment(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Commission)

	direct, err := commissiondomain.DefaultRateTable().Rate(commissiondomain.ProductTypeTour, commissiondomain.AttributionDirect)
	require.NoError(t, err)

	commission := result.Commission
	assert.Equal(t, ledgerdomain.CommissionKindSale, commission.Kind)
	assert.Equal(t, ledgerdomain.CommissionStatusPending, commission.Status)
	assert.Equal(t, "aff-1", commission.AffiliateID)
	assert.Equal(t, result.Transaction.ID, commission.TransactionID)
	assert.Equal(t, "sale-1", *commission.SaleID)
	assertDecimal(t, direct.String(), commission.Rate)
	assertDecimal(t, dec("100.00").Mul(direct).Shift(-2).String(), commission.Amount)
	assertDecimal(t, commission.Amount.String(), result.Transaction.AffiliateCommission)

	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Commission{}))
}

func TestRecordSubscriptionCreatedScenario(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.svc.RecordSubscriptionCreated(context.Background(), subscriptionRequest("evt_sub_1", "sub_1", strPtr("aff-9")))
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)
	require.NotNil(t, result.Transaction)
	require.NotNil(t, result.Commission)

	assert.Equal(t, ledgerdomain.SubscriptionStatusActive, result.Subscription.Status)
	assert.Equal(t, ledgerdomain.TransactionKindSubscription, result.Transaction.Kind)
	assert.Equal(t, result.Subscription.ID, *result.Transaction.SubscriptionID)
	assertDecimal(t, "2.90", result.Transaction.GatewayFee)
	assertDecimal(t, "97.10", result.Transaction.NetAmount)
	assertDecimal(t, "30.00", result.Commission.Amount)
	assertDecimal(t, "30", result.Commission.Rate)
	assert.Equal(t, ledgerdomain.CommissionKindSubscription, result.Commission.Kind)

	var stored ledgerdomain.Subscription
	require.NoError(t, h.db.First(&stored, "stripe_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, "premium", stored.PlanID)
	assert.Equal(t, ledgerdomain.BillingIntervalMonthly, stored.Interval)
	assert.Equal(t, "aff-9", *stored.AffiliateID)
}

func TestRecordSubscriptionCreatedDeduplicatesBySubscription(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RecordSubscriptionCreated(ctx, subscriptionRequest("evt_checkout", "sub_2", nil))
	require.NoError(t, err)

	// the same subscription reported by a second event type
	result, err := h.svc.RecordSubscriptionCreated(ctx, subscriptionRequest("evt_sub_created", "sub_2", nil))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	require.NotNil(t, result.Subscription)

	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Subscription{}))
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
}

func TestRecordSubscriptionCreatedWithoutChargeWritesNoTransaction(t *testing.T) {
	h := newHarness(t, nil)

	req := subscriptionRequest("evt_trial", "sub_trial", strPtr("aff-1"))
	req.Amount = decimal.Zero
	result, err := h.svc.RecordSubscriptionCreated(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Subscription)
	assert.Nil(t, result.Transaction)

	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Subscription{}))
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Commission{}))
}

func TestRecordSubscriptionCreatedValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := subscriptionRequest("evt_bad", "sub_bad", nil)
	req.PeriodEnd = req.PeriodStart
	_, err := h.svc.RecordSubscriptionCreated(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPeriod)

	req = subscriptionRequest("evt_bad", "sub_bad", nil)
	req.Interval = "weekly"
	_, err = h.svc.RecordSubscriptionCreated(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidInterval)

	req = subscriptionRequest("evt_bad", "sub_bad", nil)
	req.PlanID = " "
	_, err = h.svc.RecordSubscriptionCreated(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPlan)

	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Subscription{}))
}

func TestRecordSalePaymentIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := saleRequest("evt_dup")
	req.AffiliateID = strPtr("aff-1")

	first, err := h.svc.RecordSalePayment(ctx, req)
	require.NoError(t, err)
	second, err := h.svc.RecordSalePayment(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	require.NotNil(t, second.Commission)
	assert.Equal(t, first.Commission.ID, second.Commission.ID)

	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Commission{}))
}

func TestConcurrentDuplicateDeliveriesWriteOnce(t *testing.T) {
	h := newHarness(t, nil)
	req := saleRequest("evt_race")
	req.AffiliateID = strPtr("aff-1")

	var wg sync.WaitGroup
	var errCount atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.RecordSalePayment(context.Background(), req); err != nil {
				errCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, errCount.Load())
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Commission{}))
}

func TestRecordSalePaymentValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := saleRequest("evt_neg")
	req.Gross = dec("-1")
	_, err := h.svc.RecordSalePayment(ctx, req)
	assert.ErrorIs(t, err, commissiondomain.ErrInvalidAmount)
	assert.True(t, ledgerdomain.IsValidationError(err))

	req = saleRequest("evt_nouser")
	req.UserID = ""
	_, err = h.svc.RecordSalePayment(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)

	req = saleRequest("")
	_, err = h.svc.RecordSalePayment(ctx, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEventID)

	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Transaction{}))
}

func TestRecordPaymentFailure(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.svc.RecordPaymentFailure(context.Background(), ledgerdomain.PaymentFailureRequest{
		UserID:               userID,
		Gross:                dec("150.00"),
		Currency:             "brl",
		Gateway:              "stripe",
		GatewayEventID:       "evt_fail",
		GatewayTransactionID: "pi_fail",
		Reason:               "card_declined",
	})
	require.NoError(t, err)

	tx := result.Transaction
	assert.Equal(t, ledgerdomain.TransactionStatusFailed, tx.Status)
	assertDecimal(t, "150.00", tx.Amount)
	assertDecimal(t, "0", tx.GatewayFee)
	assertDecimal(t, "0", tx.NetAmount)
	assert.Equal(t, "Falha no pagamento: card_declined", tx.Description)
	assert.Nil(t, result.Commission)
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Commission{}))
}

func TestRecordPaymentFailureSuspendsSubscription(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RecordSubscriptionCreated(ctx, subscriptionRequest("evt_sub", "sub_3", nil))
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	result, err := h.svc.RecordPaymentFailure(ctx, ledgerdomain.PaymentFailureRequest{
		Gross:                 dec("100.00"),
		Currency:              "brl",
		Gateway:               "stripe",
		GatewayEventID:        "evt_invoice_failed",
		GatewayTransactionID:  "in_2",
		GatewaySubscriptionID: "sub_3",
	})
	require.NoError(t, err)
	assert.Equal(t, userID, result.Transaction.UserID)
	require.NotNil(t, result.Subscription)
	assert.Equal(t, ledgerdomain.SubscriptionStatusSuspended, result.Subscription.Status)

	var stored ledgerdomain.Subscription
	require.NoError(t, h.db.First(&stored, "stripe_subscription_id = ?", "sub_3").Error)
	assert.Equal(t, ledgerdomain.SubscriptionStatusSuspended, stored.Status)

	// reactivation is refused while the latest payment is failed
	status, err := h.svc.UpdateSubscriptionStatus(ctx, ledgerdomain.SubscriptionStatusRequest{
		GatewaySubscriptionID: "sub_3",
		Status:                ledgerdomain.SubscriptionStatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStatusSuspended, status.Subscription.Status)
}

func TestRecordSubscriptionRenewalUnknownSubscription(t *testing.T) {
	h := newHarness(t, nil)
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.svc.RecordSubscriptionRenewal(context.Background(), ledgerdomain.SubscriptionRenewalRequest{
		GatewaySubscriptionID: "sub_missing",
		PeriodStart:           start,
		PeriodEnd:             start.AddDate(0, 1, 0),
		AmountPaid:            dec("100.00"),
		Currency:              "brl",
		Gateway:               "stripe",
		GatewayEventID:        "evt_renew_missing",
		GatewayInvoiceID:      "in_missing",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrSubscriptionNotFound)
	assert.False(t, ledgerdomain.IsValidationError(err))

	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Commission{}))
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Subscription{}))
}

func TestRecordSubscriptionRenewal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RecordSubscriptionCreated(ctx, subscriptionRequest("evt_sub", "sub_4", strPtr("aff-2")))
	require.NoError(t, err)
	h.clock.Advance(30 * 24 * time.Hour)

	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	req := ledgerdomain.SubscriptionRenewalRequest{
		GatewaySubscriptionID: "sub_4",
		PeriodStart:           start,
		PeriodEnd:             start.AddDate(0, 1, 0),
		AmountPaid:            dec("100.00"),
		Currency:              "brl",
		Gateway:               "stripe",
		GatewayEventID:        "evt_renew",
		GatewayInvoiceID:      "in_renew",
	}
	result, err := h.svc.RecordSubscriptionRenewal(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result.Commission)
	assertDecimal(t, "30.00", result.Commission.Amount)
	assert.Equal(t, "aff-2", result.Commission.AffiliateID)
	assert.Equal(t, "in_renew", result.Transaction.GatewayTransactionID)
	assert.True(t, result.Subscription.PeriodEnd.Equal(start.AddDate(0, 1, 0)))

	var stored ledgerdomain.Subscription
	require.NoError(t, h.db.First(&stored, "stripe_subscription_id = ?", "sub_4").Error)
	assert.True(t, stored.PeriodStart.Equal(start))
	assert.Equal(t, ledgerdomain.SubscriptionStatusActive, stored.Status)

	again, err := h.svc.RecordSubscriptionRenewal(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	assert.EqualValues(t, 2, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 2, h.count(t, &ledgerdomain.Commission{}))
}

func TestRecordSubscriptionRenewalSkipsInvoiceBookedAtCreation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	created, err := h.svc.RecordSubscriptionCreated(ctx, subscriptionRequest("evt_checkout", "sub_5", strPtr("aff-3")))
	require.NoError(t, err)
	require.NotNil(t, created.Transaction)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	result, err := h.svc.RecordSubscriptionRenewal(ctx, ledgerdomain.SubscriptionRenewalRequest{
		GatewaySubscriptionID: "sub_5",
		PeriodStart:           start,
		PeriodEnd:             start.AddDate(0, 1, 0),
		AmountPaid:            dec("100.00"),
		Currency:              "brl",
		Gateway:               "stripe",
		GatewayEventID:        "in_evt_checkout",
		GatewayInvoiceID:      "in_evt_checkout",
	})
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, created.Transaction.ID, result.Transaction.ID)

	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Commission{}))
}

type flakyRepo struct {
	ledgerdomain.Repository
	failCommission bool
	failLookup     bool
}

func (r *flakyRepo) InsertCommission(ctx context.Context, db *gorm.DB, c *ledgerdomain.Commission) (bool, error) {
	if r.failCommission {
		return false, errors.New("connection reset by peer")
	}
	return r.Repository.InsertCommission(ctx, db, c)
}

func (r *flakyRepo) FindTransactionByEvent(ctx context.Context, db *gorm.DB, gateway, eventID string) (*ledgerdomain.Transaction, error) {
	if r.failLookup {
		return nil, errors.New("too many connections")
	}
	return r.Repository.FindTransactionByEvent(ctx, db, gateway, eventID)
}

func TestCommissionFailureIsDeferredThenReconciled(t *testing.T) {
	repo := &flakyRepo{Repository: ledgerrepo.Provide(), failCommission: true}
	h := newHarness(t, repo)
	ctx := context.Background()

	req := saleRequest("evt_partial")
	req.AffiliateID = strPtr("aff-3")
	result, err := h.svc.RecordSalePayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.CommissionDeferred)
	assert.Nil(t, result.Commission)
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Transaction{}))
	assert.EqualValues(t, 0, h.count(t, &ledgerdomain.Commission{}))

	repo.failCommission = false
	reconciled, err := h.svc.ReconcileCommissions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ReconcileResult{Scanned: 1, Repaired: 1}, reconciled)

	var stored ledgerdomain.Commission
	require.NoError(t, h.db.First(&stored, "transacao_id = ?", result.Transaction.ID).Error)
	assertDecimal(t, result.Transaction.AffiliateCommission.String(), stored.Amount)

	again, err := h.svc.ReconcileCommissions(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)
}

func TestDuplicateDeliveryRepairsMissingCommission(t *testing.T) {
	repo := &flakyRepo{Repository: ledgerrepo.Provide(), failCommission: true}
	h := newHarness(t, repo)
	ctx := context.Background()

	req := saleRequest("evt_retry")
	req.AffiliateID = strPtr("aff-4")
	first, err := h.svc.RecordSalePayment(ctx, req)
	require.NoError(t, err)
	require.True(t, first.CommissionDeferred)

	repo.failCommission = false
	second, err := h.svc.RecordSalePayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.CommissionDeferred)
	require.NotNil(t, second.Commission)
	assert.EqualValues(t, 1, h.count(t, &ledgerdomain.Commission{}))
}

func TestStoreFailureIsLedgerWriteError(t *testing.T) {
	h := newHarness(t, &flakyRepo{Repository: ledgerrepo.Provide(), failLookup: true})

	_, err := h.svc.RecordSalePayment(context.Background(), saleRequest("evt_down"))
	require.Error(t, err)

	var writeErr *ledgerdomain.LedgerWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "record_sale_payment", writeErr.Op)
	assert.False(t, ledgerdomain.IsValidationError(err))
}

func TestRecordRefund(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	req := saleRequest("evt_paid")
	req.Gross = dec("100.00")
	req.AffiliateID = strPtr("aff-5")
	sale, err := h.svc.RecordSalePayment(ctx, req)
	require.NoError(t, err)

	refund := ledgerdomain.RefundRequest{
		Gateway:           "stripe",
		GatewayEventID:    "evt_refund_1",
		GatewayReferences: []string{"ch_1", "pi_evt_paid"},
		RefundedTotal:     dec("40.00"),
		Currency:          "brl",
	}
	partial, err := h.svc.RecordRefund(ctx, refund)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.TransactionKindRefund, partial.Transaction.Kind)
	assertDecimal(t, "40.00", partial.Transaction.Amount)
	assertDecimal(t, "40.00", partial.Transaction.NetAmount)
	assert.Equal(t, sale.Transaction.ID, *partial.Transaction.OriginalTransactionID)

	var commission ledgerdomain.Commission
	require.NoError(t, h.db.First(&commission, "transacao_id = ?", sale.Transaction.ID).Error)
	assert.Equal(t, ledgerdomain.CommissionStatusPending, commission.Status)

	refund.GatewayEventID = "evt_refund_2"
	refund.RefundedTotal = dec("100.00")
	full, err := h.svc.RecordRefund(ctx, refund)
	require.NoError(t, err)
	assertDecimal(t, "60.00", full.Transaction.Amount)

	require.NoError(t, h.db.First(&commission, "transacao_id = ?", sale.Transaction.ID).Error)
	assert.Equal(t, ledgerdomain.CommissionStatusCancelled, commission.Status)

	// a later event with no new refunded amount writes nothing
	refund.GatewayEventID = "evt_refund_3"
	none, err := h.svc.RecordRefund(ctx, refund)
	require.NoError(t, err)
	assert.True(t, none.Duplicate)
	assert.EqualValues(t, 3, h.count(t, &ledgerdomain.Transaction{}))

	refund.GatewayEventID = "evt_refund_4"
	refund.RefundedTotal = dec("120.00")
	_, err = h.svc.RecordRefund(ctx, refund)
	assert.ErrorIs(t, err, ledgerdomain.ErrRefundExceedsPayment)
}

func TestRecordRefundUnknownPayment(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.RecordRefund(context.Background(), ledgerdomain.RefundRequest{
		Gateway:           "stripe",
		GatewayEventID:    "evt_refund_x",
		GatewayReferences: []string{"pi_unknown"},
		RefundedTotal:     dec("10.00"),
		Currency:          "brl",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrTransactionNotFound)
}

func TestUpdateSubscriptionStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RecordSubscriptionCreated(ctx, subscriptionRequest("evt_sub", "sub_5", nil))
	require.NoError(t, err)

	result, err := h.svc.UpdateSubscriptionStatus(ctx, ledgerdomain.SubscriptionStatusRequest{
		GatewaySubscriptionID: "sub_5",
		Status:                ledgerdomain.SubscriptionStatusCancelled,
	})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStatusCancelled, result.Subscription.Status)

	again, err := h.svc.UpdateSubscriptionStatus(ctx, ledgerdomain.SubscriptionStatusRequest{
		GatewaySubscriptionID: "sub_5",
		Status:                ledgerdomain.SubscriptionStatusCancelled,
	})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	_, err = h.svc.UpdateSubscriptionStatus(ctx, ledgerdomain.SubscriptionStatusRequest{
		GatewaySubscriptionID: "sub_unknown",
		Status:                ledgerdomain.SubscriptionStatusCancelled,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrSubscriptionNotFound)

	_, err = h.svc.UpdateSubscriptionStatus(ctx, ledgerdomain.SubscriptionStatusRequest{
		GatewaySubscriptionID: "sub_5",
		Status:                "paused",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidStatus)
}
