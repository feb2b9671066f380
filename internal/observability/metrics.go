package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	materializedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sparta_social",
		Subsystem: "view",
		Name:      "last_activity_materialized_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity materialized into the local view.",
	})
	optimisticGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sparta_social",
		Subsystem: "view",
		Name:      "last_optimistic_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent optimistic local write.",
	})
)

func init() {
	prometheus.MustRegister(materializedGauge, optimisticGauge)
}

// RecordActivityMaterialized updates the materialization watermark gauge.
func RecordActivityMaterialized(ts time.Time) {
	if ts.IsZero() {
		return
	}
	materializedGauge.Set(float64(ts.Unix()))
}

// RecordOptimisticWrite updates the optimistic-write watermark gauge.
func RecordOptimisticWrite(ts time.Time) {
	if ts.IsZero() {
		return
	}
	optimisticGauge.Set(float64(ts.Unix()))
}
