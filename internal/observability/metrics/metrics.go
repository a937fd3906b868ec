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

// Metrics exposes application-level OTel instruments.
type Metrics struct {
	ordersSubmitted   metric.Int64Counter
	streamConnections metric.Int64UpDownCounter
	relayDeliveries   metric.Int64Counter
	intakeThrottled   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName(cfg))

	ordersSubmitted, err := meter.Int64Counter("waiterless_orders_submitted_total")
	if err != nil {
		return nil, err
	}
	streamConnections, err := meter.Int64UpDownCounter("waiterless_stream_connections")
	if err != nil {
		return nil, err
	}
	relayDeliveries, err := meter.Int64Counter("waiterless_relay_deliveries_total")
	if err != nil {
		return nil, err
	}

	intakeThrottled, err := meter.Int64Counter("waiterless_intake_throttled_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ordersSubmitted:   ordersSubmitted,
		streamConnections: streamConnections,
		relayDeliveries:   relayDeliveries,
		intakeThrottled:   intakeThrottled,
	}, nil
}

// RecordOrderSubmitted counts accepted draft orders per intake channel.
func (m *Metrics) RecordOrderSubmitted(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("channel", strings.TrimSpace(channel)))
	m.ordersSubmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// StreamOpened tracks an open SSE stream.
func (m *Metrics) StreamOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamConnections.Add(ctx, 1)
}

// StreamClosed releases an open SSE stream.
func (m *Metrics) StreamClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamConnections.Add(ctx, -1)
}

// RecordRelayDelivery counts relay deliveries per sink and outcome.
func (m *Metrics) RecordRelayDelivery(ctx context.Context, sink, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("sink", strings.TrimSpace(sink)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.relayDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIntakeThrottled counts order submissions refused by the intake limiter.
func (m *Metrics) RecordIntakeThrottled(ctx context.Context, channel, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.intakeThrottled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func meterName(cfg Config) string {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "waiterless"
	}
	return name
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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

// Tenant ids are deliberately absent: a busy deployment hosts thousands of cafes.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"channel":     {},
	"sink":        {},
	"result":      {},
	"method":      {},
	"route":       {},
	"status_code": {},
	"kind":        {},
	"reason":      {},
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
