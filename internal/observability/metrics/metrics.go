package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents       metric.Int64Counter
	ledgerTransactions  metric.Int64Counter
	commissions         metric.Int64Counter
	commissionsDeferred metric.Int64Counter
	checkoutSessions    metric.Int64Counter
}

// NewProvider configures and registers the meter provider. A disabled config yields a noop provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "roteiro"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.webhookEvents, err = meter.Int64Counter("roteiro_webhook_events_total"); err != nil {
		return nil, err
	}
	if m.ledgerTransactions, err = meter.Int64Counter("roteiro_ledger_transactions_total"); err != nil {
		return nil, err
	}
	if m.commissions, err = meter.Int64Counter("roteiro_commissions_total"); err != nil {
		return nil, err
	}
	if m.commissionsDeferred, err = meter.Int64Counter("roteiro_ledger_commissions_deferred_total"); err != nil {
		return nil, err
	}
	if m.checkoutSessions, err = meter.Int64Counter("roteiro_checkout_sessions_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordWebhookEvent counts one delivery by its final outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
}

func (m *Metrics) RecordLedgerTransaction(ctx context.Context, kind, status string) {
	if m == nil {
		return
	}
	m.ledgerTransactions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)...))
}

func (m *Metrics) RecordCommission(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.commissions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("kind", kind))...))
}

// RecordCommissionDeferred counts commissions left for reconciliation after their transaction committed.
func (m *Metrics) RecordCommissionDeferred(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.commissionsDeferred.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("operation", operation))...))
}

func (m *Metrics) RecordCheckoutSession(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.checkoutSessions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("mode", mode))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// user, affiliate and event ids never become labels
var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"kind":        {},
	"status":      {},
	"operation":   {},
	"mode":        {},
	"reason":      {},
	"route":       {},
	"method":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
