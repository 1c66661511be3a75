package article

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish outcomes recorded in articles_publish_total.
const (
	OutcomeInvalid       = "invalid"
	OutcomeInFlight      = "in_flight"
	OutcomeUploadFailed  = "upload_failed"
	OutcomeResolveFailed = "resolve_failed"
	OutcomePersistFailed = "persist_failed"
	OutcomePersisted     = "persisted"
)

// Metrics holds the publish workflow's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	publishTotal  *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	stageDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		publishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "articles",
			Name:      "publish_total",
			Help:      "Publish attempts by outcome",
		}, []string{"outcome"}),

		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "articles",
			Name:      "upload_bytes_total",
			Help:      "Image bytes successfully uploaded",
		}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "articles",
			Name:      "publish_stage_duration_seconds",
			Help:      "Duration of the upload, resolve and persist stages",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
	}
}

func (m *Metrics) outcome(outcome string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) uploaded(size int64) {
	if m == nil {
		return
	}
	m.uploadBytes.Add(float64(size))
}

func (m *Metrics) observe(stage Stage, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
