package executor

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes executor-level Prometheus instrumentation covering the
// step/iteration/error dimensions this package produces.
type Metrics struct {
	stepDuration   *prometheus.HistogramVec
	stepErrors     *prometheus.CounterVec
	loopIterations *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics returns the process-wide executor metrics, registering the
// orchestrator_* collectors with the default registry on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		stepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "orchestrator_step_duration_seconds",
			Help: "Duration of individual action steps.",
		}, []string{"action", "step", "outcome"}),
		stepErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_step_errors_total",
			Help: "Count of step failures by reason.",
		}, []string{"action", "reason"}),
		loopIterations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "orchestrator_loop_iterations",
			Help: "Number of model-call iterations a multi-turn loop used.",
		}, []string{"action"}),
	}
}

// RecordStep records one step's duration and outcome.
func (m *Metrics) RecordStep(actionName string, stepIndex int, d time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.stepDuration.WithLabelValues(actionName, strconv.Itoa(stepIndex), outcome).Observe(d.Seconds())
}

// RecordError records a named failure reason for an action.
func (m *Metrics) RecordError(actionName, reason string) {
	m.stepErrors.WithLabelValues(actionName, reason).Inc()
}

// RecordLoopIterations records how many model calls a multi-turn loop used.
func (m *Metrics) RecordLoopIterations(actionName string, n int) {
	m.loopIterations.WithLabelValues(actionName).Observe(float64(n))
}
