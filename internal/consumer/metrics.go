package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/dblock/sparta-social/internal/domain"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparta_social",
		Subsystem: "ingester",
		Name:      "events_processed_total",
		Help:      "Number of stream events successfully handled.",
	}, []string{"topic", "kind"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparta_social",
		Subsystem: "ingester",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event kind.",
	}, []string{"topic", "kind"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparta_social",
		Subsystem: "ingester",
		Name:      "decode_errors_total",
		Help:      "Number of envelope decode failures per topic.",
	}, []string{"topic"})

	filteredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sparta_social",
		Subsystem: "ingester",
		Name:      "events_filtered_total",
		Help:      "Number of events dropped by the subscription filter.",
	}, []string{"topic", "kind"})

	lastEventGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sparta_social",
		Subsystem: "ingester",
		Name:      "last_event_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed event per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, filteredCounter, lastEventGauge)
}

func recordProcessed(msg kafka.Message, evt domain.Event) {
	processedCounter.WithLabelValues(msg.Topic, evt.Kind).Inc()
	if !msg.Time.IsZero() {
		lastEventGauge.WithLabelValues(msg.Topic).Set(float64(msg.Time.Unix()))
	}
}

func recordHandlerError(topic, kind string) {
	handlerErrorCounter.WithLabelValues(topic, kind).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

func recordFiltered(topic, kind string) {
	filteredCounter.WithLabelValues(topic, kind).Inc()
}
