package materializer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dblock/sparta-social/internal/domain"
)

var applyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sparta_social",
	Subsystem: "materializer",
	Name:      "events_applied_total",
	Help:      "Number of stream events processed, grouped by kind, collection, and outcome.",
}, []string{"kind", "collection", "outcome"})

func init() {
	prometheus.MustRegister(applyCounter)
}

func recordOutcome(evt domain.Event, outcome Outcome) {
	applyCounter.WithLabelValues(evt.Kind, evt.Collection, outcome.String()).Inc()
}
