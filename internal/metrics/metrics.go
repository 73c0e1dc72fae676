// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the aggregation pipeline.
//
// It exposes a narrow Backend interface (counters and duration observations)
// behind a global, pluggable backend that defaults to a no-op implementation,
// so metrics are always safe to call even when nothing is configured. The
// pattern mirrors the storage factory: the rest of the codebase depends only
// on this package while concrete metric systems live in subpackages.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a value in a latency/duration style metric.
	ObserveDuration(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)      {}
func (nopBackend) ObserveDuration(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                              { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures latency plus success/failure for one pipeline step
// (discover, extract, persist) of an indicator run.
func RecordStep(indicator, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"indicator": indicator,
		"step":      step,
		"status":    status,
	}

	backend.IncCounter("indicator_step_total", 1, lbls)
	backend.ObserveDuration("indicator_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given indicator and kind.
//
// Typical kinds mirror the run summary fields, e.g.:
//   - "extracted"
//   - "persisted"
//   - "ingested"
//   - "skipped"
func RecordRows(indicator, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("indicator_records_total", float64(delta), Labels{
		"indicator": indicator,
		"kind":      kind,
	})
}

// RecordGeographies increments the per-run geography counter.
func RecordGeographies(indicator string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("indicator_geographies_total", float64(delta), Labels{
		"indicator": indicator,
	})
}
