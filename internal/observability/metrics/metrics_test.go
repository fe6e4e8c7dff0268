package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("affiliate_id", "456"),
		attribute.String("outcome", "processed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "affiliate_id" {
			t.Fatalf("affiliate_id must not be retained")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "stripe", "payment_succeeded", "processed")
	m.RecordCommissionDeferred(context.Background(), "record_sale_payment")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordLedgerTransaction(context.Background(), "venda", "concluida")
	m.RecordCommission(context.Background(), "venda")
	m.RecordCheckoutSession(context.Background(), "payment")
}
