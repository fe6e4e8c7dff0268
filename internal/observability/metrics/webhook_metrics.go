package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	WebhookOutcomeProcessed        = "processed"
	WebhookOutcomePartial          = "partial"
	WebhookOutcomeRejected         = "rejected"
	WebhookOutcomeIgnored          = "ignored"
	WebhookOutcomeDuplicate        = "duplicate"
	WebhookOutcomeInvalidSignature = "invalid_signature"
	WebhookOutcomeInvalidPayload   = "invalid_payload"
	WebhookOutcomeInFlight         = "in_flight"
	WebhookOutcomeFailed           = "failed"
)

const (
	LedgerFailureReasonDeadlineExceeded     = "deadline_exceeded"
	LedgerFailureReasonDBLockTimeout        = "db_lock_timeout"
	LedgerFailureReasonSerializationFailure = "serialization_failure"
	LedgerFailureReasonDeadlock             = "deadlock"
	LedgerFailureReasonUniqueViolation      = "unique_violation"
	LedgerFailureReasonForeignKey           = "foreign_key_violation"
	LedgerFailureReasonUnknown              = "unknown"
)

// WebhookMetrics tracks gateway delivery health and ledger write failures.
type WebhookMetrics struct {
	deliveries          *prometheus.CounterVec
	deliveryDuration    *prometheus.HistogramVec
	ledgerFailures      *prometheus.CounterVec
	commissionsDeferred *prometheus.CounterVec
	commissionsRepaired prometheus.Counter
	lockContention      *prometheus.CounterVec
}

var (
	webhookMetricsOnce sync.Once
	webhookMetrics     *WebhookMetrics
)

func Webhook() *WebhookMetrics {
	return WebhookWithConfig(Config{})
}

// WebhookWithConfig returns the singleton registered on the default registerer.
func WebhookWithConfig(cfg Config) *WebhookMetrics {
	webhookMetricsOnce.Do(func() {
		webhookMetrics = newWebhookMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return webhookMetrics
}

func newWebhookMetrics(registerer prometheus.Registerer, cfg Config) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	m := &WebhookMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roteiro_webhook_deliveries_total",
			Help:        "Gateway webhook deliveries by provider, event kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "event_type", "outcome"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "roteiro_webhook_delivery_duration_seconds",
			Help:        "Time from receipt to response for gateway webhook deliveries.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"provider", "outcome"}),
		ledgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roteiro_ledger_write_failures_total",
			Help:        "Ledger store failures by operation and reason.",
			ConstLabels: constLabels,
		}, []string{"operation", "reason"}),
		commissionsDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roteiro_commissions_deferred_total",
			Help:        "Commissions that failed after their transaction committed and await reconciliation.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		commissionsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "roteiro_commissions_repaired_total",
			Help:        "Missing commissions written by reconciliation.",
			ConstLabels: constLabels,
		}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "roteiro_webhook_lock_contention_total",
			Help:        "Deliveries rejected because the same event was already being processed.",
			ConstLabels: constLabels,
		}, []string{"provider"}),
	}

	registerer.MustRegister(
		m.deliveries,
		m.deliveryDuration,
		m.ledgerFailures,
		m.commissionsDeferred,
		m.commissionsRepaired,
		m.lockContention,
	)
	return m
}

func (m *WebhookMetrics) ObserveDelivery(provider, eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.deliveries.WithLabelValues(provider, eventType, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	m.deliveryDuration.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

func (m *WebhookMetrics) IncLedgerFailure(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ledgerFailures.WithLabelValues(operation, ClassifyLedgerFailureReason(err)).Inc()
}

func (m *WebhookMetrics) IncCommissionDeferred(operation string) {
	if m == nil {
		return
	}
	m.commissionsDeferred.WithLabelValues(operation).Inc()
}

func (m *WebhookMetrics) AddCommissionsRepaired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.commissionsRepaired.Add(float64(count))
}

func (m *WebhookMetrics) IncLockContention(provider string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(provider).Inc()
}

// ClassifyLedgerFailureReason maps store errors to low-cardinality reasons.
func ClassifyLedgerFailureReason(err error) string {
	if err == nil {
		return LedgerFailureReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return LedgerFailureReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return LedgerFailureReasonUniqueViolation
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return LedgerFailureReasonForeignKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return LedgerFailureReasonDBLockTimeout
		case "40001":
			return LedgerFailureReasonSerializationFailure
		case "40P01":
			return LedgerFailureReasonDeadlock
		case "23505":
			return LedgerFailureReasonUniqueViolation
		case "23503":
			return LedgerFailureReasonForeignKey
		}
	}
	return LedgerFailureReasonUnknown
}
