package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics tracks the steps of the collect and predict flows.
type SagaMetrics struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewSagaMetrics creates and registers flow step metrics
func NewSagaMetrics(registry prometheus.Registerer) (*SagaMetrics, error) {
	m := &SagaMetrics{
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "saga_steps_total",
				Help:      "Executed flow steps by outcome",
			},
			[]string{"flow", "step", "outcome"}, // outcome: success, failed, continued
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "saga_step_duration_seconds",
				Help:      "Time taken by flow steps",
				Buckets:   prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
			},
			[]string{"flow", "step"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *SagaMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.stepsTotal.Describe(ch)
	m.stepDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *SagaMetrics) Collect(ch chan<- prometheus.Metric) {
	m.stepsTotal.Collect(ch)
	m.stepDuration.Collect(ch)
}

// RecordStep records one executed step.
func (m *SagaMetrics) RecordStep(flow, step, outcome string, duration time.Duration) {
	m.stepsTotal.WithLabelValues(flow, step, outcome).Inc()
	m.stepDuration.WithLabelValues(flow, step).Observe(duration.Seconds())
}
