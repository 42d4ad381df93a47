// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "findit"

// Metrics groups the collectors registered for one service instance
type Metrics struct {
	// ItemsFetched counts raw records received from the feed.
	ItemsFetched *prometheus.CounterVec
	// ItemsSaved counts records that were new to the store.
	ItemsSaved *prometheus.CounterVec
	// ItemsSkipped counts records rejected by the normalizer.
	ItemsSkipped *prometheus.CounterVec
	// RunDuration measures collection runs.
	RunDuration *prometheus.HistogramVec
	// RunsTotal counts finished runs by outcome.
	RunsTotal *prometheus.CounterVec
	// FeedUp tracks the last health verdict (1 = up, 0 = unavailable).
	FeedUp prometheus.Gauge
}

// New registers the pipeline metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ItemsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "items_fetched_total",
				Help:      "Total number of raw records fetched from the feed",
			},
			[]string{"kind"},
		),
		ItemsSaved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "items_saved_total",
				Help:      "Total number of new records persisted",
			},
			[]string{"kind"},
		),
		ItemsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "items_skipped_total",
				Help:      "Total number of records rejected during normalization",
			},
			[]string{"kind"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "run_duration_seconds",
				Help:      "Duration of collection runs in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "collector",
				Name:      "runs_total",
				Help:      "Total number of collection runs",
			},
			[]string{"kind", "status"},
		),
		FeedUp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "up",
				Help:      "Feed health (1 = up, 0 = unavailable)",
			},
		),
	}
}

// RecordPage adds the counts of one processed page
func (m *Metrics) RecordPage(kind string, fetched, saved, skipped int) {
	m.ItemsFetched.WithLabelValues(kind).Add(float64(fetched))
	m.ItemsSaved.WithLabelValues(kind).Add(float64(saved))
	m.ItemsSkipped.WithLabelValues(kind).Add(float64(skipped))
}

// RecordRun records a finished collection run
func (m *Metrics) RecordRun(kind, status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(kind, status).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetFeedUp sets the feed health gauge
func (m *Metrics) SetFeedUp(up bool) {
	if up {
		m.FeedUp.Set(1)
		return
	}
	m.FeedUp.Set(0)
}
