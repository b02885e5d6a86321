package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"streamd/internal/orchestrator"
)

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Model loads by result (ok, error, superseded)",
		},
		[]string{"result"},
	)

	loadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "load_duration_seconds",
			Help:      "Duration of successful model loads in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "generations_total",
			Help:      "Generation turns by result (ok, cancelled, error)",
		},
		[]string{"result"},
	)

	generationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of generation turns in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	generatedTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "generated_tokens_total",
			Help:      "Tokens reported by the runtime",
		},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and final status",
		},
		[]string{"tool", "status"},
	)

	inflightGenerations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "inflight_generations",
			Help:      "Generation turns currently running",
		},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamd",
			Subsystem: "session",
			Name:      "backpressure_total",
			Help:      "Generations rejected by admission (429)",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, generationsTotal, generationDuration,
		generatedTokens, toolCallsTotal, inflightGenerations, backpressureTotal)
}

func observeTurn(res orchestrator.TurnResult, err error) {
	switch {
	case err != nil:
		generationsTotal.WithLabelValues("error").Inc()
		return
	case res.Cancelled:
		generationsTotal.WithLabelValues("cancelled").Inc()
	default:
		generationsTotal.WithLabelValues("ok").Inc()
	}
	generationDuration.Observe(res.Stats.TotalTime / 1000)
	generatedTokens.Add(res.Stats.TokenCount)
	for _, c := range res.ToolCalls {
		toolCallsTotal.WithLabelValues(c.Name, string(c.Status)).Inc()
	}
}
