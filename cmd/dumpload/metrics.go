package main

import (
	"strings"

	"go.uber.org/zap"

	"dumpload/internal/config"
	"dumpload/internal/metrics"
	"dumpload/internal/metrics/datadog"
	"dumpload/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns a function that
// flushes it and restores the no-op backend. A backend that fails to start
// leaves metrics disabled; the import still runs.
func setupMetrics(m config.Metrics, log *zap.Logger) func() {
	log = log.With(zap.String("backend", m.Backend), zap.String("job", m.Job))

	var (
		b       metrics.Backend
		closeFn func() error
	)
	switch strings.ToLower(m.Backend) {
	case "pushgateway":
		pb, err := prompush.NewBackend(m.Job, m.PushgatewayURL)
		if err != nil {
			log.Warn("metrics: pushgateway unavailable; metrics disabled", zap.Error(err))
			return func() {}
		}
		b = pb
		log.Info("metrics: pushing to gateway", zap.String("url", m.PushgatewayURL))

	case "datadog":
		db, err := datadog.NewBackend(datadog.Config{
			Addr:       m.StatsdAddr,
			Namespace:  "dumpload.",
			GlobalTags: []string{"job:" + m.Job},
		})
		if err != nil {
			log.Warn("metrics: statsd unavailable; metrics disabled", zap.Error(err))
			return func() {}
		}
		b, closeFn = db, db.Close
		log.Info("metrics: sending to statsd", zap.String("addr", m.StatsdAddr))

	default:
		log.Debug("metrics: disabled")
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush failed", zap.Error(err))
		}
		if closeFn != nil {
			if err := closeFn(); err != nil {
				log.Warn("metrics: close failed", zap.Error(err))
			}
		}
		metrics.SetBackend(metrics.Nop())
	}
}
