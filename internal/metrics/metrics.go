// Package metrics instruments intake, persistence and verification.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives instrumentation events from the store and the consensus
// engine. Callers may pass nil to disable metrics; use Or to get a safe value.
type Recorder interface {
	// RecordIntake is called once per intake, duplicate or created
	RecordIntake(duplicate bool)

	// RecordPersistFailure is called when a durable write fails and the
	// in-memory mutation is rolled back
	RecordPersistFailure()

	// RecordTargetAttempt is called once per oracle invocation
	RecordTargetAttempt(reproduced, failed bool)

	// RecordVerification is called once per completed consensus run
	RecordVerification(outcome string, duration time.Duration)
}

// Or returns r, or a no-op recorder when r is nil.
func Or(r Recorder) Recorder {
	if r == nil {
		return nop{}
	}
	return r
}

type nop struct{}

func (nop) RecordIntake(bool)                        {}
func (nop) RecordPersistFailure()                    {}
func (nop) RecordTargetAttempt(bool, bool)           {}
func (nop) RecordVerification(string, time.Duration) {}

// Prometheus implements Recorder on a private registry.
type Prometheus struct {
	registry        *prometheus.Registry
	intake          *prometheus.CounterVec
	persistFailures prometheus.Counter
	attempts        *prometheus.CounterVec
	runs            *prometheus.CounterVec
	duration        prometheus.Histogram
}

// NewPrometheus registers all Provify collectors on a fresh registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provify_intake_total",
			Help: "Bug intake requests by result (created or duplicate).",
		}, []string{"result"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "provify_store_persist_failures_total",
			Help: "Durable writes that failed and were rolled back.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provify_target_attempts_total",
			Help: "Oracle invocations by result (reproduced, not_reproduced, failed).",
		}, []string{"result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provify_verification_runs_total",
			Help: "Consensus runs by outcome status.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "provify_verification_duration_seconds",
			Help:    "Wall time of a consensus run across all targets.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
	p.registry.MustRegister(p.intake, p.persistFailures, p.attempts, p.runs, p.duration)
	return p
}

// Registry exposes the underlying registry
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Prometheus) RecordIntake(duplicate bool) {
	if duplicate {
		p.intake.WithLabelValues("duplicate").Inc()
		return
	}
	p.intake.WithLabelValues("created").Inc()
}

func (p *Prometheus) RecordPersistFailure() {
	p.persistFailures.Inc()
}

func (p *Prometheus) RecordTargetAttempt(reproduced, failed bool) {
	switch {
	case failed:
		p.attempts.WithLabelValues("failed").Inc()
	case reproduced:
		p.attempts.WithLabelValues("reproduced").Inc()
	default:
		p.attempts.WithLabelValues("not_reproduced").Inc()
	}
}

func (p *Prometheus) RecordVerification(outcome string, duration time.Duration) {
	p.runs.WithLabelValues(outcome).Inc()
	p.duration.Observe(duration.Seconds())
}
