package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/roteiro/internal/authorization"
	"github.com/smallbiznis/roteiro/internal/clock"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	"github.com/smallbiznis/roteiro/internal/metricspush"
	obscontext "github.com/smallbiznis/roteiro/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobReconcileCommissions = "reconcile_commissions"
	JobLedgerSnapshot       = "ledger_snapshot"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// JobLocker keeps a job to one instance at a time.
type JobLocker interface {
	TryLockJob(ctx context.Context, job string, ttl time.Duration) (string, bool, error)
	ReleaseJob(ctx context.Context, job, token string) error
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	LedgerSvc ledgerdomain.Service
	AuthzSvc  authorization.Service
	Clock     clock.Clock
	Config    Config             `optional:"true"`
	Locker    JobLocker          `optional:"true"`
	Pusher    metricspush.Pusher `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	authzSvc  authorization.Service
	locker    JobLocker
	pusher    metricspush.Pusher
	registry  *prometheus.Registry
	metrics   *jobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.LedgerSvc == nil || p.AuthzSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}

	registry := prometheus.NewRegistry()
	m := newJobMetrics()
	if err := m.register(registry, prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}

	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		authzSvc:  p.AuthzSvc,
		locker:    p.Locker,
		pusher:    p.Pusher,
		registry:  registry,
		metrics:   m,
	}, nil
}

// RunOnce runs every job in order. A failing job does not stop the rest.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, JobReconcileCommissions, s.ReconcileCommissionsJob))
	err = errors.Join(err, s.runJob(parent, JobLedgerSnapshot, s.LedgerSnapshotJob))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	ctx = obscontext.WithActor(ctx, authorization.SystemActor)
	log := s.log.With(zap.String("job", name))

	if s.locker != nil {
		token, ok, err := s.locker.TryLockJob(ctx, name, s.cfg.JobTimeout)
		switch {
		case err != nil:
			// Jobs are idempotent, so running without the lock only risks duplicate work.
			log.Warn("job lock unavailable", zap.Error(err))
		case !ok:
			s.metrics.skipped.WithLabelValues(name).Inc()
			log.Debug("job locked by another instance")
			return nil
		default:
			defer func() {
				if err := s.locker.ReleaseJob(context.WithoutCancel(ctx), name, token); err != nil {
					log.Warn("job lock release failed", zap.Error(err))
				}
			}()
		}
	}

	start := s.clock.Now()
	s.metrics.runs.WithLabelValues(name).Inc()
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(start)
	s.metrics.duration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		s.metrics.errors.WithLabelValues(name).Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("job timed out", zap.Duration("timeout", s.cfg.JobTimeout))
			return nil
		}
		log.Error("job failed", zap.Error(err), zap.Duration("duration", elapsed))
		return err
	}
	log.Debug("job finished", zap.Duration("duration", elapsed))
	return nil
}

// ReconcileCommissionsJob writes commissions that were deferred when the
// ledger could not store them alongside their transaction.
func (s *Scheduler) ReconcileCommissionsJob(ctx context.Context) error {
	if err := s.authorizeSystem(ctx, authorization.ObjectCommission, authorization.ActionCommissionReconcile); err != nil {
		return err
	}

	result, err := s.ledgerSvc.ReconcileCommissions(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	s.metrics.reconciled.WithLabelValues("repaired").Add(float64(result.Repaired))
	s.metrics.reconciled.WithLabelValues("failed").Add(float64(result.Failed))

	if result.Scanned > 0 {
		s.log.Info("commission reconciliation finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("repaired", result.Repaired),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}

// LedgerSnapshotJob refreshes ledger gauges and pushes them when a push
// exporter is configured.
func (s *Scheduler) LedgerSnapshotJob(ctx context.Context) error {
	snapshot, err := loadLedgerSnapshot(ctx, s.db)
	if err != nil {
		return err
	}
	s.applySnapshot(snapshot)

	if s.pusher == nil {
		return nil
	}
	return s.pusher.Push(ctx, JobLedgerSnapshot, s.registry)
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, authorization.SystemActor, "", object, action)
}

func (s *Scheduler) applySnapshot(snapshot ledgerSnapshot) {
	s.metrics.pendingCommissions.Set(float64(snapshot.PendingCommissions))
	s.metrics.pendingCommissionSum.Set(snapshot.PendingCommissionAmount.InexactFloat64())
	s.metrics.unreconciled.Set(float64(snapshot.MissingCommissions))

	s.metrics.subscriptionsByStatus.Reset()
	for status, count := range snapshot.SubscriptionsByStatus {
		s.metrics.subscriptionsByStatus.WithLabelValues(status).Set(float64(count))
	}
	s.metrics.paymentEventsByStatus.Reset()
	for status, count := range snapshot.PaymentEventsByStatus {
		s.metrics.paymentEventsByStatus.WithLabelValues(status).Set(float64(count))
	}
}
