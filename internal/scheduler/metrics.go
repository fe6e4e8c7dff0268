package scheduler

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type jobMetrics struct {
	runs     *prometheus.CounterVec
	errors   *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec

	reconciled            *prometheus.CounterVec
	pendingCommissions    prometheus.Gauge
	pendingCommissionSum  prometheus.Gauge
	unreconciled          prometheus.Gauge
	subscriptionsByStatus *prometheus.GaugeVec
	paymentEventsByStatus *prometheus.GaugeVec
}

func newJobMetrics() *jobMetrics {
	return &jobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roteiro_scheduler_job_runs_total",
			Help: "Scheduler job runs.",
		}, []string{"job"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roteiro_scheduler_job_errors_total",
			Help: "Scheduler job failures.",
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roteiro_scheduler_job_skipped_total",
			Help: "Scheduler job runs skipped because another instance held the job lock.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roteiro_scheduler_job_duration_seconds",
			Help:    "Scheduler job duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roteiro_commissions_reconciled_total",
			Help: "Deferred commissions handled by reconciliation, by result.",
		}, []string{"result"}),
		pendingCommissions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roteiro_commissions_pending",
			Help: "Commissions waiting for payout.",
		}),
		pendingCommissionSum: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roteiro_commissions_pending_amount",
			Help: "Sum of commissions waiting for payout.",
		}),
		unreconciled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roteiro_transactions_missing_commission",
			Help: "Completed affiliate transactions without a commission row.",
		}),
		subscriptionsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roteiro_subscriptions",
			Help: "Subscriptions by status.",
		}, []string{"status"}),
		paymentEventsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roteiro_payment_events",
			Help: "Stored gateway events by processing status.",
		}, []string{"status"}),
	}
}

func (m *jobMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runs, m.errors, m.skipped, m.duration,
		m.reconciled,
		m.pendingCommissions, m.pendingCommissionSum, m.unreconciled,
		m.subscriptionsByStatus, m.paymentEventsByStatus,
	}
}

// register adds the collectors to each registerer. A registerer that
// already carries them keeps the first set.
func (m *jobMetrics) register(registerers ...prometheus.Registerer) error {
	for _, registerer := range registerers {
		if registerer == nil {
			continue
		}
		for _, collector := range m.collectors() {
			if err := registerer.Register(collector); err != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					continue
				}
				return err
			}
		}
	}
	return nil
}
