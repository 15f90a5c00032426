package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline stages counted by OrdersTotal.
const (
	StageCreated       = "created"
	StagePublished     = "published"
	StagePublishFailed = "publish_failed"
	StageProcessed     = "processed"
	StageFailed        = "failed"
	StageRejected      = "rejected"
	StageSettleNoop    = "settle_noop"
	StageRepublished   = "republished"
	StageExpired       = "expired"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_pipeline_total",
			Help: "Orders lifecycle counter by pipeline stage",
		},
		[]string{"stage"},
	)

	ProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orders_processing_seconds",
			Help:    "Time spent in the processing stage of the settlement worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	registerOnce sync.Once
)

// MustRegister registers the collectors once per process; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			OrdersTotal,
			ProcessingSeconds,
		)
	})
}

func Inc(stage string) {
	OrdersTotal.WithLabelValues(stage).Inc()
}
