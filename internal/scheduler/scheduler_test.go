package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/roteiro/internal/authorization"
	"github.com/smallbiznis/roteiro/internal/clock"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	"github.com/smallbiznis/roteiro/internal/migration"
	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const affiliateID = "0b9c6f3e-8d2a-4e51-9a7c-3f1e2d4b5a60"

type fakeLedger struct {
	ledgerdomain.Service
	calls  int
	limit  int
	result ledgerdomain.ReconcileResult
	err    error
}

func (f *fakeLedger) ReconcileCommissions(ctx context.Context, limit int) (ledgerdomain.ReconcileResult, error) {
	f.calls++
	f.limit = limit
	return f.result, f.err
}

type fakeJobLocker struct {
	held     bool
	err      error
	released []string
}

func (f *fakeJobLocker) TryLockJob(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return "token-" + job, !f.held, nil
}

func (f *fakeJobLocker) ReleaseJob(ctx context.Context, job, token string) error {
	f.released = append(f.released, job)
	return nil
}

type fakePusher struct {
	pushes   int
	job      string
	registry *prometheus.Registry
}

func (f *fakePusher) Push(ctx context.Context, job string, registry *prometheus.Registry) error {
	f.pushes++
	f.job = job
	f.registry = registry
	return nil
}

var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:scheduler_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func newTestScheduler(t *testing.T, db *gorm.DB, ledger *fakeLedger, locker JobLocker, pusher *fakePusher) *Scheduler {
	t.Helper()
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)

	p := Params{
		DB:        db,
		Log:       zap.NewNop(),
		LedgerSvc: ledger,
		AuthzSvc:  authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Clock:     clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Config:    Config{BatchSize: 7},
		Locker:    locker,
	}
	if pusher != nil {
		p.Pusher = pusher
	}
	s, err := New(p)
	require.NoError(t, err)
	return s
}

func seedLedger(t *testing.T, db *gorm.DB) {
	t.Helper()
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	affiliate := affiliateID

	transaction := func(status ledgerdomain.TransactionStatus, commission string) ledgerdomain.Transaction {
		return ledgerdomain.Transaction{
			ID:                  node.Generate(),
			UserID:              "5e1f0a2b-3c4d-4e5f-8a9b-0c1d2e3f4a5b",
			Kind:                ledgerdomain.TransactionKindSale,
			Amount:              decimal.RequireFromString("100.00"),
			Currency:            "brl",
			Status:              status,
			Gateway:             "stripe",
			GatewayEventID:      node.Generate().String(),
			GatewayFee:          decimal.RequireFromString("2.90"),
			NetAmount:           decimal.RequireFromString("97.10"),
			AffiliateID:         &affiliate,
			AffiliateCommission: decimal.RequireFromString(commission),
			CommissionRate:      decimal.RequireFromString("15"),
			CreatedAt:           now,
		}
	}

	withCommission := transaction(ledgerdomain.TransactionStatusCompleted, "15.00")
	missing := transaction(ledgerdomain.TransactionStatusCompleted, "15.00")
	failed := transaction(ledgerdomain.TransactionStatusFailed, "0")
	require.NoError(t, db.Create(&[]ledgerdomain.Transaction{withCommission, missing, failed}).Error)

	require.NoError(t, db.Create(&ledgerdomain.Commission{
		ID:            node.Generate(),
		TransactionID: withCommission.ID,
		AffiliateID:   affiliateID,
		Kind:          ledgerdomain.CommissionKindSale,
		Amount:        decimal.RequireFromString("15.00"),
		Rate:          decimal.RequireFromString("15"),
		Status:        ledgerdomain.CommissionStatusPending,
		CreatedAt:     now,
	}).Error)

	require.NoError(t, db.Create(&[]ledgerdomain.Subscription{
		{
			ID: node.Generate(), UserID: "u1", PlanID: "explorador", Status: ledgerdomain.SubscriptionStatusActive,
			PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0), Interval: ledgerdomain.BillingIntervalMonthly,
			GatewaySubscriptionID: "sub_1", AmountPaid: decimal.RequireFromString("29.90"), CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: node.Generate(), UserID: "u2", PlanID: "explorador", Status: ledgerdomain.SubscriptionStatusCancelled,
			PeriodStart: now, PeriodEnd: now.AddDate(1, 0, 0), Interval: ledgerdomain.BillingIntervalYearly,
			GatewaySubscriptionID: "sub_2", AmountPaid: decimal.RequireFromString("299.00"), CreatedAt: now, UpdatedAt: now,
		},
	}).Error)

	require.NoError(t, db.Create(&paymentdomain.EventRecord{
		ID:              node.Generate(),
		Provider:        "stripe",
		ProviderEventID: "evt_failed",
		EventType:       "invoice.paid",
		Status:          paymentdomain.EventStatusFailed,
		Payload:         datatypes.JSON(`{}`),
		ReceivedAt:      now,
	}).Error)
}

func TestRunOnceReconcilesAsSystemAndPushesSnapshot(t *testing.T) {
	db := newTestDB(t)
	seedLedger(t, db)
	ledger := &fakeLedger{result: ledgerdomain.ReconcileResult{Scanned: 2, Repaired: 1, Failed: 1}}
	locker := &fakeJobLocker{}
	pusher := &fakePusher{}
	s := newTestScheduler(t, db, ledger, locker, pusher)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Equal(t, 1, ledger.calls)
	assert.Equal(t, 7, ledger.limit)
	assert.Equal(t, []string{JobReconcileCommissions, JobLedgerSnapshot}, locker.released)

	require.Equal(t, 1, pusher.pushes)
	assert.Same(t, s.registry, pusher.registry)
	assert.Equal(t, JobLedgerSnapshot, pusher.job)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.pendingCommissions))
	assert.Equal(t, 15.0, testutil.ToFloat64(s.metrics.pendingCommissionSum))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.unreconciled))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.subscriptionsByStatus.WithLabelValues("ativa")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.subscriptionsByStatus.WithLabelValues("cancelada")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.paymentEventsByStatus.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.reconciled.WithLabelValues("repaired")))
}

func TestRunOnceSkipsJobsLockedElsewhere(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	pusher := &fakePusher{}
	s := newTestScheduler(t, db, ledger, &fakeJobLocker{held: true}, pusher)

	require.NoError(t, s.RunOnce(context.Background()))

	assert.Zero(t, ledger.calls)
	assert.Zero(t, pusher.pushes)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.skipped.WithLabelValues(JobReconcileCommissions)))
}

func TestRunOnceProceedsWhenLockUnavailable(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	s := newTestScheduler(t, db, ledger, &fakeJobLocker{err: errors.New("redis down")}, nil)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, ledger.calls)
}

func TestRunOnceReportsReconcileFailure(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{err: ledgerdomain.WriteError("reconcile_commissions", errors.New("db gone"))}
	s := newTestScheduler(t, db, ledger, nil, nil)

	err := s.RunOnce(context.Background())

	var writeErr *ledgerdomain.LedgerWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.errors.WithLabelValues(JobReconcileCommissions)))
	// The snapshot job still ran.
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.runs.WithLabelValues(JobLedgerSnapshot)))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvideConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 5*time.Minute, cfg.RunInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, time.Minute, cfg.JobTimeout)
}
