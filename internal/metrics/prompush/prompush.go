// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Batch runs are short-lived, so metrics are pushed to a Pushgateway on
// Flush instead of being exposed on an HTTP scrape endpoint. All
// Prometheus-specific dependencies live here so the rest of the project can
// swap backends without touching the pipeline.
package prompush

import (
	"fmt"

	"github.com/Geeker1/wazimap-ng/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // "indicator_step_total"
	stepDuration *prometheus.SummaryVec // "indicator_step_duration_seconds"

	recordCounter    *prometheus.CounterVec // "indicator_records_total"
	geographyCounter *prometheus.CounterVec // "indicator_geographies_total"
}

// NewBackend constructs a Pushgateway backend. jobName is the Pushgateway
// grouping key; gatewayURL is the base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "indicators"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_step_total",
			Help: "Total indicator run step executions, partitioned by indicator, step, and status.",
		},
		[]string{"indicator", "step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "indicator_step_duration_seconds",
			Help:       "Duration of indicator run steps in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"indicator", "step", "status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_records_total",
			Help: "Row-level counts per kind (extracted, persisted, ingested, skipped).",
		},
		[]string{"indicator", "kind"},
	)
	geographyCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indicator_geographies_total",
			Help: "Number of geographies written per indicator run.",
		},
		[]string{"indicator"},
	)

	for _, c := range []prometheus.Collector{stepCounter, stepDuration, recordCounter, geographyCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:       gatewayURL,
		jobName:          jobName,
		reg:              reg,
		stepCounter:      stepCounter,
		stepDuration:     stepDuration,
		recordCounter:    recordCounter,
		geographyCounter: geographyCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "indicator_step_total":
		b.stepCounter.WithLabelValues(labels["indicator"], labels["step"], labels["status"]).Add(delta)

	case "indicator_records_total":
		b.recordCounter.WithLabelValues(labels["indicator"], labels["kind"]).Add(delta)

	case "indicator_geographies_total":
		b.geographyCounter.WithLabelValues(labels["indicator"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveDuration(name string, value float64, labels metrics.Labels) {
	if name != "indicator_step_duration_seconds" {
		return
	}
	b.stepDuration.WithLabelValues(labels["indicator"], labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
