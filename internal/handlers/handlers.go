package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// CollectRunner runs a collection on demand
type CollectRunner interface {
	RunKind(ctx context.Context, kind models.Kind) (*models.CollectionRunResult, error)
}

// HealthSource serves the cached feed verdict
type HealthSource interface {
	Current() models.HealthVerdict
}

// RecordStore is the read side of the persistence sink
type RecordStore interface {
	FindByID(ctx context.Context, kind models.Kind, id string) (*models.CanonicalRecord, bool)
	Count(ctx context.Context, kind models.Kind) (int, error)
	Ping(ctx context.Context) error
}

// Checker is an optional dependency reported by the aggregate health check
type Checker func(ctx context.Context) error

// Handler contains all HTTP handlers
type Handler struct {
	runner   CollectRunner
	health   HealthSource
	records  RecordStore
	gatherer prometheus.Gatherer
	checks   map[string]Checker
}

// NewHandler creates a new handler instance. checks maps a dependency name to its probe.
func NewHandler(
	runner CollectRunner,
	health HealthSource,
	records RecordStore,
	gatherer prometheus.Gatherer,
	checks map[string]Checker,
) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if checks == nil {
		checks = map[string]Checker{}
	}
	return &Handler{
		runner:   runner,
		health:   health,
		records:  records,
		gatherer: gatherer,
		checks:   checks,
	}
}

// RegisterRoutes mounts every endpoint on r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/collect/{kind}", h.CollectHandler).Methods("POST")
	api.HandleFunc("/items/{kind}/{id}", h.ItemHandler).Methods("GET")
	api.HandleFunc("/stats", h.StatsHandler).Methods("GET")
	api.HandleFunc("/health", h.FeedHealthHandler).Methods("GET")

	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// CollectHandler runs one collection and returns its result
func (h *Handler) CollectHandler(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// the run outlives a dropped connection
	result, err := h.runner.RunKind(context.WithoutCancel(r.Context()), kind)
	switch {
	case errors.Is(err, scheduler.ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil && result == nil:
		log.Error().Err(err).Str("kind", string(kind)).Msg("Manual collection failed")
		http.Error(w, "Collection failed", http.StatusInternalServerError)
		return
	case err != nil:
		// partial progress is kept; report it with the failure
		writeJSON(w, http.StatusBadGateway, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ItemHandler returns a stored record by id
func (h *Handler) ItemHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := models.ParseKind(vars["kind"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, exists := h.records.FindByID(r.Context(), kind, vars["id"])
	if !exists {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// StatsHandler returns the number of stored records per kind
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	counts := make(map[models.Kind]int, len(models.Kinds))
	for _, kind := range models.Kinds {
		n, err := h.records.Count(r.Context(), kind)
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to count records")
			http.Error(w, "Failed to count records", http.StatusInternalServerError)
			return
		}
		counts[kind] = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"counts":  counts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
