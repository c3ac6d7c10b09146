package tune

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	suggestionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "suggestions_total",
		Help:      "Trial assignments handed to workers, by kind.",
	}, []string{"kind"})

	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "decisions_total",
		Help:      "Rung decisions returned for metric reports.",
	}, []string{"decision"})

	forcedFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "forced_failures_total",
		Help:      "Trials failed for exceeding the sync report grace period.",
	})
)
