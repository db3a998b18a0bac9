package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors Counter increments into Prometheus so the scrape
// endpoint stays meaningful even though GetStats is read back in-process.
type Metrics struct {
	events *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// NewMetrics returns the process-wide health metrics, registering the
// orchestrator_health_events_total counter on first call.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			events: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "orchestrator_health_events_total",
				Help: "Health counter increments by cascade triple key and metric.",
			}, []string{"key", "metric"}),
		}
	})
	return metrics
}

// OnIncrement is a Counter.New callback that records into Prometheus.
func (m *Metrics) OnIncrement(key string, metric Metric, amount int64) {
	m.events.WithLabelValues(key, string(metric)).Add(float64(amount))
}
