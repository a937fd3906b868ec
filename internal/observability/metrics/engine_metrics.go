package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/waiterless/internal/errs"
)

const (
	ResultOK = "ok"

	DropReasonSlowConsumer = "slow_consumer"
	DropReasonTapOverflow  = "tap_overflow"

	ReplayResultReplayed = "replayed"
	ReplayResultLive     = "live"
	ReplayResultGap      = "gap"
)

// EngineMetrics captures order lifecycle and fan-out health signals.
type EngineMetrics struct {
	transitions     *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	subscriberDrops *prometheus.CounterVec
	replayRequests  *prometheus.CounterVec
	commitDuration  *prometheus.HistogramVec
	storeRetries    *prometheus.CounterVec
	activeConns     prometheus.Gauge
}

var (
	engineMetricsOnce sync.Once
	engineMetrics     *EngineMetrics
)

// Engine returns the singleton engine metrics registry.
func Engine() *EngineMetrics {
	return EngineWithConfig(Config{})
}

// EngineWithConfig returns the singleton engine metrics registry using config labels.
func EngineWithConfig(cfg Config) *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetrics = NewEngineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engineMetrics
}

// NewEngineMetrics registers a fresh set of collectors on registerer.
func NewEngineMetrics(registerer prometheus.Registerer, cfg Config) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "waiterless"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &EngineMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waiterless_order_transitions_total",
			Help:        "Order transition attempts by source status, target status and result.",
			ConstLabels: constLabels,
		}, []string{"from", "to", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waiterless_events_published_total",
			Help:        "Events published on the bus by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		subscriberDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waiterless_subscriber_drops_total",
			Help:        "Connections or taps dropped for falling behind.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		replayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waiterless_replay_requests_total",
			Help:        "Subscribe requests by replay outcome.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "waiterless_store_commit_duration_seconds",
			Help:        "Order store write latency by backend and operation.",
			Buckets:     []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			ConstLabels: constLabels,
		}, []string{"backend", "op"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "waiterless_store_retries_total",
			Help:        "Transient storage failures retried by operation.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "waiterless_subscription_connections",
			Help:        "Connections registered with the subscription manager.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.transitions,
		m.eventsPublished,
		m.subscriberDrops,
		m.replayRequests,
		m.commitDuration,
		m.storeRetries,
		m.activeConns,
	)
	return m
}

// ObserveTransition records one transition attempt; err nil means committed.
func (m *EngineMetrics) ObserveTransition(from, to string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = errs.Kind(err)
	}
	m.transitions.WithLabelValues(from, to, result).Inc()
}

func (m *EngineMetrics) IncEventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

func (m *EngineMetrics) IncSubscriberDrop(reason string) {
	if m == nil {
		return
	}
	m.subscriberDrops.WithLabelValues(reason).Inc()
}

func (m *EngineMetrics) IncReplay(result string) {
	if m == nil {
		return
	}
	m.replayRequests.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveCommit(backend, op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commitDuration.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

func (m *EngineMetrics) IncStoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *EngineMetrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConns.Inc()
}

func (m *EngineMetrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}
