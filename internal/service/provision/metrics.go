package provision

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stepBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

// Metrics records per-step outcomes.
type Metrics struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

// NewMetrics registers provisioning collectors on reg, reusing collectors that already exist.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puyu",
			Subsystem: "provision",
			Name:      "steps_total",
			Help:      "Count of provisioning steps by outcome",
		}, []string{"step", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "puyu",
			Subsystem: "provision",
			Name:      "step_duration_seconds",
			Help:      "Duration of provisioning steps",
			Buckets:   stepBuckets,
		}, []string{"step"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "puyu",
			Subsystem: "provision",
			Name:      "runs_total",
			Help:      "Count of provisioning runs by status and failure kind",
		}, []string{"status", "kind"}),
	}
	if reg == nil {
		return m
	}
	m.steps = register(reg, m.steps)
	m.duration = register(reg, m.duration)
	m.runs = register(reg, m.runs)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeStep(step, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(step, outcome).Inc()
	m.duration.WithLabelValues(step).Observe(d.Seconds())
}

func (m *Metrics) observeRun(status, kind string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status, kind).Inc()
}
