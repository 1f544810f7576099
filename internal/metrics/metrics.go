// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the import runs.
//
// It exposes a narrow Backend interface (counters and timings) and a global,
// pluggable backend that defaults to a no-op, so instrumentation is always
// safe to call even when no real backend is configured. Concrete metric
// systems live in subpackages (prompush, datadog).
package metrics

import "time"

// Metric names emitted by the helpers below.
const (
	StepTotal          = "dumpload_step_total"
	StepDuration       = "dumpload_step_duration_seconds"
	RecordsTotal       = "dumpload_records_total"
	BatchesTotal       = "dumpload_batches_total"
	CheckpointsTotal   = "dumpload_checkpoints_total"
	CheckpointDuration = "dumpload_checkpoint_duration_seconds"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// Nop returns the default backend, which drops everything.
func Nop() Backend { return nopBackend{} }

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
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

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordStep measures latency and success/failure of one pipeline state.
func RecordStep(job, step string, err error, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status(err),
	}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Kinds mirror the run summary, e.g.:
//   - "processed"
//   - "skipped"
//   - "written"
//   - "inserted"
//   - "merged"
//   - "author_conflicts"
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments the flushed-batch counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}

// RecordCheckpoint counts one commit and checkpoint cycle and its duration.
func RecordCheckpoint(job string, err error, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"status": status(err),
	}
	backend.IncCounter(CheckpointsTotal, 1, lbls)
	backend.ObserveHistogram(CheckpointDuration, d.Seconds(), lbls)
}
