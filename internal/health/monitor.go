// Package health keeps a cached verdict on the reachability of the upstream feed.
package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/metrics"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	serviceName       = "Lost and found feed"
	defaultStaleAfter = 15 * time.Minute
)

// Prober is the feed call used for the health probe
type Prober interface {
	Enabled() bool
	FetchPage(ctx context.Context, kind models.Kind, pageNo, pageSize int, startDate, endDate *time.Time) (*models.FeedPage, error)
}

// Monitor caches the result of the last probe. Refresh is the only writer;
// Current never blocks and never touches the network.
type Monitor struct {
	feed       Prober
	staleAfter time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics

	verdict atomic.Pointer[models.HealthVerdict]
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock sets the clock used for probe timestamps and staleness
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithStaleAfter sets how long a verdict stays fresh
func WithStaleAfter(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithMetrics exports every refreshed verdict as a gauge
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// NewMonitor creates a Monitor holding a Pending verdict
func NewMonitor(feed Prober, opts ...Option) *Monitor {
	m := &Monitor{
		feed:       feed,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.verdict.Store(pendingVerdict())
	return m
}

// Current returns the cached verdict. An Available verdict older than the staleness
// threshold is relabelled Stale with its other details kept. An old Unavailable verdict
// keeps its status and only reports its age. A disabled feed is never stale.
func (m *Monitor) Current() models.HealthVerdict {
	latest := m.verdict.Load()
	if !m.feed.Enabled() {
		return *latest
	}
	if latest.CheckedAt.IsZero() {
		return *pendingVerdict()
	}

	elapsed := m.now().Sub(latest.CheckedAt)
	if elapsed <= m.staleAfter {
		return *latest
	}
	stale := *latest
	stale.StaleMs = elapsed.Milliseconds()
	// an old failure stays a failure
	if latest.Status == models.HealthAvailable {
		stale.Status = models.HealthStale
		stale.Message = "feed health data is stale"
	}
	return stale
}

// Refresh probes the feed with the smallest possible request and replaces the cached verdict
func (m *Monitor) Refresh(ctx context.Context) models.HealthVerdict {
	checkedAt := m.now()
	v := m.probe(ctx, checkedAt)
	m.verdict.Store(&v)

	if m.metrics != nil {
		m.metrics.SetFeedUp(v.Up())
	}

	event := log.Debug()
	if v.Status == models.HealthUnavailable {
		event = log.Warn()
	}
	event.Str("status", string(v.Status)).Str("error", v.Error).Msg("Feed health refreshed")
	return v
}

func (m *Monitor) probe(ctx context.Context, checkedAt time.Time) models.HealthVerdict {
	v := models.HealthVerdict{
		Service:   serviceName,
		CheckedAt: checkedAt,
	}
	if !m.feed.Enabled() {
		v.Status = models.HealthDisabled
		v.Message = "feed calls are turned off"
		return v
	}

	end := time.Date(checkedAt.Year(), checkedAt.Month(), checkedAt.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -1)

	page, err := m.feed.FetchPage(ctx, models.KindLost, 1, 1, &start, &end)
	switch {
	case err != nil:
		v.Status = models.HealthUnavailable
		v.Message = "feed request failed"
		v.Error = err.Error()
	case page.Success():
		v.Status = models.HealthAvailable
		v.Message = "feed is accessible"
	default:
		v.Status = models.HealthUnavailable
		v.Message = "feed responded with unexpected status"
		v.Error = unexpected(page)
	}
	return v
}

func unexpected(page *models.FeedPage) string {
	if page == nil {
		return "no response"
	}
	if page.Detail != "" {
		return page.Detail
	}
	return fmt.Sprintf("result code %q: %s", page.ResultCode, page.ResultMsg)
}

func pendingVerdict() *models.HealthVerdict {
	return &models.HealthVerdict{
		Service: serviceName,
		Status:  models.HealthPending,
		Message: "feed health check has not run yet",
	}
}
