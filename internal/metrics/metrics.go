// Package metrics exposes Prometheus instruments describing poll cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fronius_publisher_"

	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics groups the poller's instruments.
type Metrics struct {
	cycles        *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	cycleLatency  prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

// New creates the instruments and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cycles_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "stage_failures_total",
				Help: "Failed poll cycles by stage and reason",
			},
			[]string{"stage", "reason"},
		),
		cycleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_success_timestamp_seconds",
				Help: "Unix time of the last published record",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.cycles, m.stageFailures, m.cycleLatency, m.lastSuccess)
	}

	return m
}

// ObserveSuccess records a cycle that published a record collected at.
func (m *Metrics) ObserveSuccess(duration time.Duration, at time.Time) {
	if m == nil {
		return
	}

	m.cycles.WithLabelValues(ResultSuccess).Inc()
	m.cycleLatency.Observe(duration.Seconds())
	m.lastSuccess.Set(float64(at.Unix()))
}

// ObserveFailure records a cycle abandoned at stage.
func (m *Metrics) ObserveFailure(duration time.Duration, stage, reason string) {
	if m == nil {
		return
	}

	m.cycles.WithLabelValues(ResultError).Inc()
	m.stageFailures.WithLabelValues(stage, reason).Inc()
	m.cycleLatency.Observe(duration.Seconds())
}
