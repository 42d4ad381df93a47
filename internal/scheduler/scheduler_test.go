package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hacknation/odnalezione-zguby/findit-ingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	mu      sync.Mutex
	calls   map[models.Kind]int
	release chan struct{}
	started chan models.Kind
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		calls:   map[models.Kind]int{},
		release: make(chan struct{}),
		started: make(chan models.Kind, 10),
	}
}

func (r *blockingRunner) Collect(_ context.Context, kind models.Kind, lookbackDays int) (*models.CollectionRunResult, error) {
	r.mu.Lock()
	r.calls[kind]++
	r.mu.Unlock()
	r.started <- kind
	<-r.release
	return &models.CollectionRunResult{Kind: kind}, r.err
}

func (r *blockingRunner) count(kind models.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

type countingMonitor struct {
	refreshes atomic.Int32
}

func (m *countingMonitor) Refresh(context.Context) models.HealthVerdict {
	m.refreshes.Add(1)
	return models.HealthVerdict{Status: models.HealthAvailable}
}

func TestRunKind_RejectsConcurrentRunOfSameKind(t *testing.T) {
	runner := newBlockingRunner()
	s := New(runner, &countingMonitor{}, Options{LookbackDays: 7})

	done := make(chan error, 1)
	go func() {
		_, err := s.RunKind(context.Background(), models.KindLost)
		done <- err
	}()
	<-runner.started

	_, err := s.RunKind(context.Background(), models.KindLost)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, runner.count(models.KindLost))
}

func TestRunKind_DifferentKindsRunInParallel(t *testing.T) {
	runner := newBlockingRunner()
	s := New(runner, &countingMonitor{}, Options{LookbackDays: 7})

	errs := make(chan error, 2)
	for _, kind := range models.Kinds {
		go func() {
			_, err := s.RunKind(context.Background(), kind)
			errs <- err
		}()
	}

	started := map[models.Kind]bool{}
	for range models.Kinds {
		select {
		case kind := <-runner.started:
			started[kind] = true
		case <-time.After(2 * time.Second):
			t.Fatal("runs of different kinds did not start together")
		}
	}
	close(runner.release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.True(t, started[models.KindLost])
	assert.True(t, started[models.KindFound])
}

func TestRunKind_UnknownKind(t *testing.T) {
	s := New(newBlockingRunner(), &countingMonitor{}, Options{})

	_, err := s.RunKind(context.Background(), models.Kind("stolen"))

	assert.Error(t, err)
}

func TestTriggerCollect_DefaultsToAllKinds(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	s := New(runner, &countingMonitor{}, Options{})

	require.NoError(t, s.TriggerCollect(context.Background()))

	assert.Equal(t, 1, runner.count(models.KindLost))
	assert.Equal(t, 1, runner.count(models.KindFound))
}

func TestTriggerCollect_ReturnsRunError(t *testing.T) {
	runner := newBlockingRunner()
	runner.err = errors.New("feed transport error")
	close(runner.release)
	s := New(runner, &countingMonitor{}, Options{})

	err := s.TriggerCollect(context.Background(), models.KindFound)

	assert.EqualError(t, err, "feed transport error")
}

func TestTriggerCollect_SkipsRunningKind(t *testing.T) {
	runner := newBlockingRunner()
	s := New(runner, &countingMonitor{}, Options{})

	go func() { _, _ = s.RunKind(context.Background(), models.KindLost) }()
	<-runner.started

	assert.NoError(t, s.TriggerCollect(context.Background(), models.KindLost))
	close(runner.release)
}

func TestStart_RefreshesHealthImmediatelyAndOnInterval(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	monitor := &countingMonitor{}
	s := New(runner, monitor, Options{
		CollectInterval: time.Hour,
		HealthInterval:  10 * time.Millisecond,
		RunOnStart:      true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return monitor.refreshes.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return runner.count(models.KindLost) == 1 && runner.count(models.KindFound) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
