package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/client"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/collector"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/config"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/handlers"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/health"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/metrics"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/normalizer"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/scheduler"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/services"
	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/storage"
)

func main() {
	// Setup logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("host", cfg.Host).
		Str("port", cfg.Port).
		Bool("feed_enabled", cfg.Feed.Enabled).
		Str("policy", cfg.Collector.Policy).
		Msg("Starting FindIt ingestion service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().Msg("Initializing Postgres storage...")
	itemStorage, err := storage.NewPostgresStorage(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Postgres storage")
	}
	defer itemStorage.Close()
	log.Info().Msg("Postgres storage initialized")

	checks := map[string]handlers.Checker{}
	collectorOpts := collector.Options{
		PageSize: cfg.Collector.PageSize,
	}

	if cfg.MinIO.Endpoint != "" {
		log.Info().Msg("Initializing MinIO storage...")
		minioStorage, err := storage.NewMinIOStorage(
			cfg.MinIO.Endpoint,
			cfg.MinIO.PublicEndpoint,
			cfg.MinIO.AccessKey,
			cfg.MinIO.SecretKey,
			cfg.MinIO.Bucket,
			cfg.MinIO.UseSSL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MinIO storage")
		}
		collectorOpts.Mirror = minioStorage
		checks["storage"] = minioStorage.HealthCheck
		log.Info().Msg("MinIO storage initialized successfully")
	} else {
		log.Warn().Msg("MINIO_ENDPOINT not configured - images keep their upstream URLs")
	}

	var publisher *services.RabbitMQPublisher
	if cfg.RabbitMQ.URL != "" {
		log.Info().Msg("Initializing RabbitMQ publisher...")
		publisher, err = services.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ publisher")
		}
		defer publisher.Close()
		collectorOpts.Publisher = publisher
		checks["rabbitmq"] = func(context.Context) error { return publisher.HealthCheck() }
		log.Info().Msg("RabbitMQ publisher initialized successfully")
	} else {
		log.Warn().Msg("RABBITMQ_URL not configured - ingestion events are disabled")
	}

	feed := client.NewFeedClient(client.Options{
		Enabled:       cfg.Feed.Enabled,
		BaseURL:       cfg.Feed.BaseURL,
		ServiceKey:    cfg.Feed.ServiceKey,
		LostPath:      cfg.Feed.LostPath,
		FoundPath:     cfg.Feed.FoundPath,
		Timeout:       cfg.Feed.Timeout,
		MaxAttempts:   cfg.Feed.MaxAttempts,
		RetryDelay:    cfg.Feed.RetryDelay,
		RatePerSecond: cfg.Feed.RatePerSecond,
		ResponseType:  cfg.Feed.ResponseType,
	})
	if !feed.Enabled() {
		log.Warn().Msg("Feed calls are disabled - collections will be empty")
	}

	mt := metrics.New(nil)

	policy, ok := collector.PolicyByName(cfg.Collector.Policy, cfg.Collector.MaxPages)
	if !ok {
		log.Fatal().Str("policy", cfg.Collector.Policy).Msg("Unknown termination policy")
	}
	collectorOpts.Policy = policy
	collectorOpts.Metrics = mt

	coll := collector.New(feed, normalizer.New(), itemStorage, collectorOpts)

	monitor := health.NewMonitor(feed,
		health.WithStaleAfter(cfg.Health.StaleAfter),
		health.WithMetrics(mt),
	)

	sched := scheduler.New(coll, monitor, scheduler.Options{
		LookbackDays:    cfg.Collector.LookbackDays,
		CollectInterval: cfg.Collector.Interval,
		HealthInterval:  cfg.Health.Interval,
		RunOnStart:      cfg.Collector.RunOnStart,
	})
	go func() {
		if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Scheduler stopped")
		}
	}()

	if cfg.RabbitMQ.URL != "" {
		log.Info().Msg("Initializing RabbitMQ consumer...")
		consumer, err := services.NewRabbitMQConsumer(
			cfg.RabbitMQ.URL,
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.Queue,
			sched,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ consumer")
		}
		defer consumer.Close()

		if err := consumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start RabbitMQ consumer")
		}
		log.Info().Msg("RabbitMQ consumer initialized and started")
	}

	handler := handlers.NewHandler(sched, monitor, itemStorage, nil, checks)

	// Setup router
	router := setupRouter(handler)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 20 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("address", srv.Addr).
			Msg("Server starting...")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	log.Info().Msg("FindIt ingestion service is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

// setupRouter configures all routes and middleware
func setupRouter(h *handlers.Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware
	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	h.RegisterRoutes(r)

	log.Info().Msg("Routes configured successfully")
	return r
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
