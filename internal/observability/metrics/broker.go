package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/digitlab/digitlab/internal/logger"
)

// BrokerMetrics tracks calls to the context broker and the model list cache.
type BrokerMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	reachable    prometheus.Gauge
	cacheLookups *prometheus.CounterVec
}

// NewBrokerMetrics creates and registers broker metrics
func NewBrokerMetrics(registry prometheus.Registerer) (*BrokerMetrics, error) {
	m := &BrokerMetrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "broker_calls_total",
				Help:      "Total number of context broker calls",
			},
			[]string{"operation", "outcome"}, // outcome: success, not_found, status_error, transport_error
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "broker_call_duration_seconds",
				Help:      "Latency of context broker calls",
				Buckets:   prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
			},
			[]string{"operation"},
		),
		reachable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "broker_reachable",
				Help:      "1 when the last broker ping succeeded, 0 otherwise",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_cache_lookups_total",
				Help:      "Model list cache lookups by result",
			},
			[]string{"result"}, // hit, miss
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BrokerMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.callsTotal, m.callDuration, m.reachable, m.cacheLookups}
}

// Describe implements the Collector interface
func (m *BrokerMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *BrokerMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RecordBrokerCall records one broker round trip.
func (m *BrokerMetrics) RecordBrokerCall(operation, outcome string, duration time.Duration) {
	m.callsTotal.WithLabelValues(operation, outcome).Inc()
	m.callDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetReachable records the result of a broker ping.
func (m *BrokerMetrics) SetReachable(ok bool) {
	if ok {
		m.reachable.Set(1)
		return
	}
	m.reachable.Set(0)
}

// Reachable returns the last recorded ping result.
func (m *BrokerMetrics) Reachable() bool {
	metric := &dto.Metric{}
	if err := m.reachable.Write(metric); err != nil {
		getLogger().Warn("Failed to read broker reachability metric", logger.Error(err))
		return false
	}
	return metric.GetGauge().GetValue() == 1
}

// RecordCacheLookup counts a model list cache hit or miss.
func (m *BrokerMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
