// Package metrics turns lifecycle events into Prometheus series. Each
// Recorder registers on its own registry so several loads in one process do
// not collide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chriserin/ftplan/internal/events"
)

const (
	namespace = "ftplan"
	subsystem = "runner"
)

type Recorder struct {
	registry *prometheus.Registry

	// Runs counts started runs.
	Runs prometheus.Counter

	// Executables counts finished attempts.
	// Labels: status (passed, failed, skipped, pending)
	Executables *prometheus.CounterVec

	// Duration observes attempt duration by status.
	Duration *prometheus.HistogramVec

	// HookFailures counts failed hooks.
	// Labels: phase (setup, before, after, teardown)
	HookFailures *prometheus.CounterVec
}

var _ events.Listener = (*Recorder)(nil)

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Total number of runs started",
		}),
		Executables: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executables_total",
			Help:      "Total number of finished executable attempts by status",
		}, []string{"status"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executable_duration_seconds",
			Help:      "Duration of executable attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		HookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hook_failures_total",
			Help:      "Total number of failed hooks by phase",
		}, []string{"phase"}),
	}
}

// Registry exposes the series for scraping or gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) OnEvent(e events.Event) {
	switch e.Kind {
	case events.RunStarted:
		r.Runs.Inc()
	case events.ExecutableFinished:
		r.Executables.WithLabelValues(e.Status).Inc()
		if e.Duration > 0 {
			r.Duration.WithLabelValues(e.Status).Observe(e.Duration.Seconds())
		}
	case events.HookFailed:
		r.HookFailures.WithLabelValues(e.HookPhase).Inc()
	}
}
