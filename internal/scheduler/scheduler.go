// Package scheduler drives collection runs and health refreshes on fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when a run of the same kind has not finished yet
var ErrRunInProgress = errors.New("collection already running")

// Runner performs one collection run
type Runner interface {
	Collect(ctx context.Context, kind models.Kind, lookbackDays int) (*models.CollectionRunResult, error)
}

// Refresher re-probes a dependency
type Refresher interface {
	Refresh(ctx context.Context) models.HealthVerdict
}

// Options configures a Scheduler
type Options struct {
	LookbackDays    int
	CollectInterval time.Duration
	HealthInterval  time.Duration
	RunOnStart      bool
}

// Scheduler serialises runs per kind; runs of different kinds proceed in parallel
type Scheduler struct {
	runner  Runner
	monitor Refresher
	opts    Options
	running map[models.Kind]*sync.Mutex
}

// New creates a Scheduler
func New(runner Runner, monitor Refresher, opts Options) *Scheduler {
	running := make(map[models.Kind]*sync.Mutex, len(models.Kinds))
	for _, kind := range models.Kinds {
		running[kind] = &sync.Mutex{}
	}
	return &Scheduler{
		runner:  runner,
		monitor: monitor,
		opts:    opts,
		running: running,
	}
}

// RunKind runs one collection unless one of the same kind is already running
func (s *Scheduler) RunKind(ctx context.Context, kind models.Kind) (*models.CollectionRunResult, error) {
	mu, ok := s.running[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	if !mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, kind)
	}
	defer mu.Unlock()

	return s.runner.Collect(ctx, kind, s.opts.LookbackDays)
}

// TriggerCollect runs the given kinds in parallel. A kind that is already running is skipped.
func (s *Scheduler) TriggerCollect(ctx context.Context, kinds ...models.Kind) error {
	if len(kinds) == 0 {
		kinds = models.Kinds
	}

	var g errgroup.Group
	for _, kind := range kinds {
		g.Go(func() error {
			_, err := s.RunKind(ctx, kind)
			if errors.Is(err, ErrRunInProgress) {
				log.Info().Str("kind", string(kind)).Msg("Collection already running, skipping trigger")
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Start refreshes health at once, then runs both loops until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.monitor.Refresh(ctx)
		s.every(ctx, s.opts.HealthInterval, func() {
			s.monitor.Refresh(ctx)
		})
		return nil
	})

	g.Go(func() error {
		if s.opts.RunOnStart {
			s.collectAll(ctx)
		}
		s.every(ctx, s.opts.CollectInterval, func() {
			s.collectAll(ctx)
		})
		return nil
	})

	log.Info().
		Dur("collect_interval", s.opts.CollectInterval).
		Dur("health_interval", s.opts.HealthInterval).
		Msg("Scheduler started")

	return g.Wait()
}

func (s *Scheduler) collectAll(ctx context.Context) {
	if err := s.TriggerCollect(ctx); err != nil {
		log.Error().Err(err).Msg("Scheduled collection failed")
	}
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
