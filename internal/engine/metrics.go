package engine

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for specialist execution.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	TokensTotal         *prometheus.CounterVec
	CostUSDTotal        prometheus.Counter
	EditsTotal          *prometheus.CounterVec
	LedgerFailuresTotal prometheus.Counter
	StreamDuration      *prometheus.HistogramVec
}

// NewMetrics returns the process-wide engine metrics, registering them on
// first use.
//
// Metrics:
//   - refacta_engine_runs_total{outcome} - specialist runs by outcome
//   - refacta_engine_tokens_total{direction} - "input" or "output" tokens
//   - refacta_engine_cost_usd_total - reported cost
//   - refacta_engine_edits_total{status} - "accepted" or "dropped"
//   - refacta_ledger_write_failures_total - ledger appends that failed
//   - refacta_engine_stream_duration_seconds{outcome}
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "refacta_engine_runs_total",
					Help: "Total number of specialist runs by outcome",
				},
				[]string{"outcome"},
			),
			TokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "refacta_engine_tokens_total",
					Help: "Total tokens reported by specialist streams",
				},
				[]string{"direction"},
			),
			CostUSDTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "refacta_engine_cost_usd_total",
				Help: "Total cost in USD reported by specialist streams",
			}),
			EditsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "refacta_engine_edits_total",
					Help: "Total edit invocations by status",
				},
				[]string{"status"},
			),
			LedgerFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "refacta_ledger_write_failures_total",
				Help: "Total number of ledger appends that failed",
			}),
			StreamDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "refacta_engine_stream_duration_seconds",
					Help:    "Duration of specialist streams in seconds",
					Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
				},
				[]string{"outcome"},
			),
		}
	})
	return globalMetrics
}

func (m *Metrics) observeRun(run SpecialistRun) {
	outcome := run.Outcome.String()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.StreamDuration.WithLabelValues(outcome).Observe(run.Duration.Seconds())
	m.TokensTotal.WithLabelValues("input").Add(float64(run.InputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(run.OutputTokens))
	if run.CostUSD > 0 {
		m.CostUSDTotal.Add(run.CostUSD)
	}
	m.EditsTotal.WithLabelValues("accepted").Add(float64(len(run.Edits)))
	m.EditsTotal.WithLabelValues("dropped").Add(float64(run.DroppedEdits))
}
