// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. An import run is a batch job with no scrape endpoint, so
// collected series are pushed to a Pushgateway on Flush.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"dumpload/internal/metrics"
)

// DefaultJob is the Pushgateway grouping job when none is given.
const DefaultJob = "dumpload"

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // step, status
	stepDuration *prometheus.SummaryVec // step, status

	recordCounter *prometheus.CounterVec // kind
	batchCounter  prometheus.Counter

	checkpointCounter  *prometheus.CounterVec // status
	checkpointDuration prometheus.Summary
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName is the Pushgateway "job" grouping key; gatewayURL is the base URL
// of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = DefaultJob
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline state executions, partitioned by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Duration of pipeline states in seconds.",
			Objectives: objectives,
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record-level counts per kind (processed, skipped, inserted, ...).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Upsert batches flushed.",
		}),
		checkpointCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.CheckpointsTotal,
			Help: "Commit and checkpoint cycles, partitioned by status.",
		}, []string{"status"}),
		checkpointDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name:       metrics.CheckpointDuration,
			Help:       "Duration of commit and checkpoint cycles in seconds.",
			Objectives: objectives,
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":        b.stepCounter,
		"step summary":        b.stepDuration,
		"record counter":      b.recordCounter,
		"batch counter":       b.batchCounter,
		"checkpoint counter":  b.checkpointCounter,
		"checkpoint duration": b.checkpointDuration,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// IncCounter routes name to its collector. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.Add(delta)
	case metrics.CheckpointsTotal:
		b.checkpointCounter.WithLabelValues(labels["status"]).Add(delta)
	}
}

// ObserveHistogram routes name to its summary. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDuration:
		b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
	case metrics.CheckpointDuration:
		b.checkpointDuration.Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
