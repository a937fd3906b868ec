package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("channel", "qr"),
		attribute.String("tenant_id", "456"),
		attribute.String("result", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" {
			t.Fatalf("tenant_id must be dropped")
		}
	}
}

func TestInstrumentsWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "waiterless"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordOrderSubmitted(ctx, "qr")
	m.StreamOpened(ctx)
	m.StreamClosed(ctx)
	m.RecordRelayDelivery(ctx, "redis", "ok")

	var nilMetrics *Metrics
	nilMetrics.RecordOrderSubmitted(ctx, "web")

	if _, err := NewHTTPMetrics(Config{}, noop.NewMeterProvider()); err != nil {
		t.Fatalf("new http metrics: %v", err)
	}
}
