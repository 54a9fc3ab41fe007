package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
)

var processedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "replypipe",
		Name:      "strategy_requests_total",
		Help:      "Messages processed by the strategy manager, by strategy and outcome.",
	},
	[]string{"strategy", "outcome"},
)

var processingSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "replypipe",
		Name:      "strategy_processing_seconds",
		Help:      "End-to-end processing time of the strategy manager.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"strategy"},
)

var leadScoreFallbacks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "replypipe",
		Name:      "lead_score_defaults_total",
		Help:      "Contexts built with default lead score because scoring failed.",
	},
)

// RegisterMetrics registers the strategy collectors with reg. Registering twice
// with the same registry is ignored.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{processedTotal, processingSeconds, leadScoreFallbacks} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

func observe(strategyName, outcome string, seconds float64) {
	processedTotal.WithLabelValues(strategyName, outcome).Inc()
	processingSeconds.WithLabelValues(strategyName).Observe(seconds)
}
