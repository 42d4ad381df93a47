package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/metrics"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct {
	disabled bool
	page     *models.FeedPage
	err      error
	calls    atomic.Int32

	gotKind          models.Kind
	gotPage, gotSize int
	gotStart, gotEnd time.Time
}

func (s *stubFeed) Enabled() bool { return !s.disabled }

func (s *stubFeed) FetchPage(_ context.Context, kind models.Kind, pageNo, pageSize int, start, end *time.Time) (*models.FeedPage, error) {
	s.calls.Add(1)
	s.gotKind, s.gotPage, s.gotSize = kind, pageNo, pageSize
	s.gotStart, s.gotEnd = *start, *end
	return s.page, s.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func okPage() *models.FeedPage {
	return &models.FeedPage{ResultCode: models.ResultCodeSuccess, Items: []models.RawFeedRecord{}}
}

func TestMonitor_PendingBeforeFirstProbe(t *testing.T) {
	feed := &stubFeed{page: okPage()}
	m := NewMonitor(feed)

	v := m.Current()

	assert.Equal(t, models.HealthPending, v.Status)
	assert.True(t, v.Up())
	assert.Equal(t, int32(0), feed.calls.Load())
}

func TestMonitor_RefreshAvailable(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 8, 10, 0, 0, 0, time.UTC)}
	feed := &stubFeed{page: okPage()}
	m := NewMonitor(feed, WithClock(c.now))

	v := m.Refresh(context.Background())

	assert.Equal(t, models.HealthAvailable, v.Status)
	assert.Equal(t, c.t, v.CheckedAt)
	assert.Equal(t, models.KindLost, feed.gotKind)
	assert.Equal(t, 1, feed.gotPage)
	assert.Equal(t, 1, feed.gotSize)
	assert.Equal(t, "2024-05-07", feed.gotStart.Format(models.DateLayout))
	assert.Equal(t, "2024-05-08", feed.gotEnd.Format(models.DateLayout))
	assert.Equal(t, v, m.Current())
}

func TestMonitor_Staleness(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 8, 10, 0, 0, 0, time.UTC)}
	feed := &stubFeed{page: okPage()}
	m := NewMonitor(feed, WithClock(c.now), WithStaleAfter(15*time.Minute))
	fresh := m.Refresh(context.Background())

	c.advance(time.Minute)
	assert.Equal(t, fresh, m.Current())

	c.advance(15 * time.Minute)
	stale := m.Current()

	assert.Equal(t, models.HealthStale, stale.Status)
	assert.True(t, stale.Up())
	assert.Equal(t, fresh.CheckedAt, stale.CheckedAt)
	assert.Equal(t, fresh.Service, stale.Service)
	assert.Equal(t, (16 * time.Minute).Milliseconds(), stale.StaleMs)
	assert.Equal(t, int32(1), feed.calls.Load())
}

func TestMonitor_StaleFailureStaysDown(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 8, 10, 0, 0, 0, time.UTC)}
	feed := &stubFeed{err: errors.New("connection refused")}
	m := NewMonitor(feed, WithClock(c.now), WithStaleAfter(15*time.Minute))
	failed := m.Refresh(context.Background())

	c.advance(time.Hour)
	v := m.Current()

	assert.Equal(t, models.HealthUnavailable, v.Status)
	assert.False(t, v.Up())
	assert.Equal(t, failed.Error, v.Error)
	assert.Equal(t, failed.Message, v.Message)
	assert.Equal(t, time.Hour.Milliseconds(), v.StaleMs)
}

func TestMonitor_Disabled(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 8, 10, 0, 0, 0, time.UTC)}
	feed := &stubFeed{disabled: true}
	m := NewMonitor(feed, WithClock(c.now))

	v := m.Refresh(context.Background())
	c.advance(24 * time.Hour)

	assert.Equal(t, models.HealthDisabled, v.Status)
	assert.Equal(t, models.HealthDisabled, m.Current().Status)
	assert.Equal(t, int32(0), feed.calls.Load())
}

func TestMonitor_Unavailable(t *testing.T) {
	tests := []struct {
		name      string
		page      *models.FeedPage
		err       error
		wantError string
	}{
		{"transport error", nil, errors.New("feed transport error: timeout"), "feed transport error: timeout"},
		{"bad header", &models.FeedPage{ResultCode: "99", ResultMsg: "SERVICE ERROR"}, nil, `result code "99": SERVICE ERROR`},
		{"parse failure", &models.FeedPage{Detail: "failed to parse XML response"}, nil, "failed to parse XML response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			mt := metrics.New(reg)
			m := NewMonitor(&stubFeed{page: tt.page, err: tt.err}, WithMetrics(mt))

			v := m.Refresh(context.Background())

			assert.Equal(t, models.HealthUnavailable, v.Status)
			assert.False(t, v.Up())
			assert.Equal(t, tt.wantError, v.Error)
			assert.Equal(t, 0.0, testutil.ToFloat64(mt.FeedUp))
		})
	}
}

func TestMonitor_RecoversAfterFailure(t *testing.T) {
	feed := &stubFeed{err: errors.New("connection refused")}
	mt := metrics.New(prometheus.NewRegistry())
	m := NewMonitor(feed, WithMetrics(mt))

	require.Equal(t, models.HealthUnavailable, m.Refresh(context.Background()).Status)

	feed.err = nil
	feed.page = okPage()
	v := m.Refresh(context.Background())

	assert.Equal(t, models.HealthAvailable, v.Status)
	assert.Empty(t, v.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.FeedUp))
}
