package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"persona-eval/internal/domain"
)

// RunnerMetrics agrupa las metricas Prometheus del runner.
type RunnerMetrics struct {
	items    *prometheus.CounterVec
	attempts prometheus.Counter
	failures prometheus.Counter
	latency  prometheus.Histogram
}

// NewRunnerMetrics registra las metricas en reg; con reg nil usa un registry propio.
func NewRunnerMetrics(reg prometheus.Registerer) *RunnerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &RunnerMetrics{
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mpi_items_total",
			Help: "Items procesados por opcion parseada",
		}, []string{"choice"}),
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "mpi_item_attempts_total",
			Help: "Llamadas al endpoint de dialogo, reintentos incluidos",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mpi_item_failures_total",
			Help: "Items que terminaron con error de transporte o protocolo",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mpi_dialog_latency_seconds",
			Help:    "Latencia por llamada al endpoint de dialogo",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms a ~25s
		}),
	}
}

func (m *RunnerMetrics) observeAttempt(latencyMS int64) {
	if m == nil {
		return
	}
	m.attempts.Inc()
	m.latency.Observe(float64(latencyMS) / 1000)
}

func (m *RunnerMetrics) observeItem(r domain.AssessmentResult) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(string(r.ParsedChoice)).Inc()
	if r.Failed() {
		m.failures.Inc()
	}
}
