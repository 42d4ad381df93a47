package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/metrics"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	result *models.CollectionRunResult
	err    error
	kinds  []models.Kind
	ctxErr error
}

func (s *stubRunner) RunKind(ctx context.Context, kind models.Kind) (*models.CollectionRunResult, error) {
	s.kinds = append(s.kinds, kind)
	s.ctxErr = ctx.Err()
	return s.result, s.err
}

type stubHealth struct {
	verdict models.HealthVerdict
}

func (s stubHealth) Current() models.HealthVerdict { return s.verdict }

type stubStore struct {
	records map[string]*models.CanonicalRecord
	counts  map[models.Kind]int
	pingErr error
}

func (s *stubStore) FindByID(_ context.Context, kind models.Kind, id string) (*models.CanonicalRecord, bool) {
	rec, ok := s.records[string(kind)+"/"+id]
	return rec, ok
}

func (s *stubStore) Count(_ context.Context, kind models.Kind) (int, error) {
	return s.counts[kind], nil
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

func newRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func serve(t *testing.T, r http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func available() stubHealth {
	return stubHealth{verdict: models.HealthVerdict{Status: models.HealthAvailable, CheckedAt: time.Now()}}
}

func TestCollectHandler_RunIgnoresClientDisconnect(t *testing.T) {
	runner := &stubRunner{result: &models.CollectionRunResult{RunID: "run-1", Kind: models.KindLost}}
	r := newRouter(NewHandler(runner, available(), &stubStore{}, prometheus.NewRegistry(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/collect/lost", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, runner.ctxErr)
}

func TestCollectHandler(t *testing.T) {
	runner := &stubRunner{result: &models.CollectionRunResult{RunID: "run-1", Kind: models.KindFound, Fetched: 4, Skipped: 1}}
	r := newRouter(NewHandler(runner, available(), &stubStore{}, prometheus.NewRegistry(), nil))

	rec := serve(t, r, http.MethodPost, "/api/collect/found")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.Kind{models.KindFound}, runner.kinds)
	var body models.CollectionRunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 4, body.Fetched)
}

func TestCollectHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		result   *models.CollectionRunResult
		err      error
		wantCode int
	}{
		{"unknown kind", "/api/collect/stolen", nil, nil, http.StatusBadRequest},
		{"already running", "/api/collect/lost", nil, fmt.Errorf("%w: lost", scheduler.ErrRunInProgress), http.StatusConflict},
		{"aborted with partial result", "/api/collect/lost", &models.CollectionRunResult{Err: "feed transport error"}, errors.New("feed transport error"), http.StatusBadGateway},
		{"failed without result", "/api/collect/lost", nil, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{result: tt.result, err: tt.err}
			r := newRouter(NewHandler(runner, available(), &stubStore{}, prometheus.NewRegistry(), nil))

			rec := serve(t, r, http.MethodPost, tt.path)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestCollectHandler_GetNotAllowed(t *testing.T) {
	r := newRouter(NewHandler(&stubRunner{}, available(), &stubStore{}, prometheus.NewRegistry(), nil))

	rec := serve(t, r, http.MethodGet, "/api/collect/lost")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFeedHealthHandler(t *testing.T) {
	tests := []struct {
		status   models.HealthStatus
		wantCode int
	}{
		{models.HealthPending, http.StatusOK},
		{models.HealthAvailable, http.StatusOK},
		{models.HealthStale, http.StatusOK},
		{models.HealthDisabled, http.StatusOK},
		{models.HealthUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			h := stubHealth{verdict: models.HealthVerdict{Status: tt.status, StaleMs: 1000}}
			r := newRouter(NewHandler(&stubRunner{}, h, &stubStore{}, prometheus.NewRegistry(), nil))

			rec := serve(t, r, http.MethodGet, "/api/health")

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.status), body["status"])
		})
	}
}

func TestHealthCheckHandler(t *testing.T) {
	store := &stubStore{}
	checks := map[string]Checker{
		"storage": func(context.Context) error { return nil },
	}
	r := newRouter(NewHandler(&stubRunner{}, available(), store, prometheus.NewRegistry(), checks))

	rec := serve(t, r, http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status string              `json:"status"`
		Feed   models.HealthVerdict `json:"feed"`
		Checks map[string]string   `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, models.HealthAvailable, body.Feed.Status)
	assert.Equal(t, map[string]string{"database": "ok", "storage": "ok"}, body.Checks)
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	store := &stubStore{pingErr: errors.New("connection refused")}
	checks := map[string]Checker{
		"rabbitmq": func(context.Context) error { return errors.New("RabbitMQ connection is closed") },
	}
	r := newRouter(NewHandler(&stubRunner{}, available(), store, prometheus.NewRegistry(), checks))

	rec := serve(t, r, http.MethodGet, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), "RabbitMQ connection is closed")
}

func TestItemHandler(t *testing.T) {
	name := "Umbrella"
	store := &stubStore{records: map[string]*models.CanonicalRecord{
		"found/F1": {Kind: models.KindFound, ID: "F1", Category: "Misc", Place: "Gate 3", DateText: "2024-05-01", Name: &name},
	}}
	r := newRouter(NewHandler(&stubRunner{}, available(), store, prometheus.NewRegistry(), nil))

	rec := serve(t, r, http.MethodGet, "/api/items/found/F1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Umbrella"`)
	assert.Contains(t, rec.Body.String(), `"date":"2024-05-01"`)

	assert.Equal(t, http.StatusNotFound, serve(t, r, http.MethodGet, "/api/items/lost/F1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, r, http.MethodGet, "/api/items/stolen/F1").Code)
}

func TestStatsHandler(t *testing.T) {
	store := &stubStore{counts: map[models.Kind]int{models.KindLost: 12, models.KindFound: 7}}
	r := newRouter(NewHandler(&stubRunner{}, available(), store, prometheus.NewRegistry(), nil))

	rec := serve(t, r, http.MethodGet, "/api/stats")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"counts":{"lost":12,"found":7}}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordPage("lost", 4, 3, 1)
	r := newRouter(NewHandler(&stubRunner{}, available(), &stubStore{}, reg, nil))

	rec := serve(t, r, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `findit_collector_items_saved_total{kind="lost"} 3`), body)
}
