package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of pipeline runs. A nil *Metrics
// records nothing.
type Metrics struct {
	Runs            *prometheus.CounterVec
	PhaseDuration   *prometheus.HistogramVec
	ItemsCollected  *prometheus.CounterVec
	CollectorErrors *prometheus.CounterVec
	Todos           *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Runs by final state (done or failed)
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_aggregator_runs_total",
			Help: "Total number of pipeline runs by outcome",
		}, []string{"status"}),

		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "todo_aggregator_phase_duration_seconds",
			Help:    "Duration of each pipeline phase in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}, // model calls can take minutes
		}, []string{"phase"}),

		ItemsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_aggregator_items_collected_total",
			Help: "Content items collected by collector",
		}, []string{"collector"}),

		CollectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_aggregator_collector_errors_total",
			Help: "Collector failures by collector",
		}, []string{"collector"}),

		// outcome: created, skipped, completed, needs_review
		Todos: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_aggregator_todos_total",
			Help: "Todo writes by outcome",
		}, []string{"outcome"}),
	}
}

// RecordRun records the final state of a run.
func (m *Metrics) RecordRun(status Phase) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
}

// RecordPhase records how long a phase took.
func (m *Metrics) RecordPhase(phase Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// RecordCollected records the outcome of one collector.
func (m *Metrics) RecordCollected(collector string, items int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CollectorErrors.WithLabelValues(collector).Inc()
		return
	}
	m.ItemsCollected.WithLabelValues(collector).Add(float64(items))
}

// RecordTodos adds n todo writes with the given outcome.
func (m *Metrics) RecordTodos(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Todos.WithLabelValues(outcome).Add(float64(n))
}
