package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

func testPool(t *testing.T, size int, handler JobHandler) *Pool {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PoolSize = size

	pool, err := NewPool(cfg, handler, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		if pool.IsRunning() {
			_ = pool.Stop(context.Background())
		}
	})

	return pool
}

func TestPoolProcessesJobs(t *testing.T) {
	var processed atomic.Int64
	done := make(chan struct{}, 4)

	pool := testPool(t, 2, func(_ context.Context, _ *domain.Job) error {
		processed.Add(1)
		done <- struct{}{}
		return nil
	})

	for i := 0; i < 4; i++ {
		for {
			ok, err := pool.TrySubmit(context.Background(), &domain.Job{ID: "job"})
			require.NoError(t, err)
			if ok {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	assert.Equal(t, int64(4), processed.Load())
}

func TestPoolTrySubmitRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)

	pool := testPool(t, 1, func(_ context.Context, _ *domain.Job) error {
		started <- struct{}{}
		<-block
		return nil
	})

	ok, err := pool.TrySubmit(context.Background(), &domain.Job{ID: "a"})
	require.NoError(t, err)
	require.True(t, ok)
	<-started

	ok, err = pool.TrySubmit(context.Background(), &domain.Job{ID: "b"})
	require.NoError(t, err)
	assert.False(t, ok, "full pool must reject without blocking")

	close(block)
}

func TestPoolAcceptedJobsAlwaysRun(t *testing.T) {
	var executed atomic.Int64

	pool := testPool(t, 4, func(_ context.Context, _ *domain.Job) error {
		executed.Add(1)
		return nil
	})

	// Contending submitters must never be handed the same worker, and an
	// accepted submission must always execute.
	const submitters, perSubmitter = 8, 50
	var accepted atomic.Int64
	var wg sync.WaitGroup

	for s := 0; s < submitters; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				for {
					ok, err := pool.TrySubmit(context.Background(), &domain.Job{ID: "job"})
					if !assert.NoError(t, err) {
						return
					}
					if ok {
						accepted.Add(1)
						break
					}
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return executed.Load() == accepted.Load()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(submitters*perSubmitter), accepted.Load())
}

func TestPoolTrySubmitReservesBeforeReturning(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := testPool(t, 2, func(_ context.Context, _ *domain.Job) error {
		<-block
		return nil
	})

	ok, err := pool.TrySubmit(context.Background(), &domain.Job{ID: "a"})
	require.NoError(t, err)
	require.True(t, ok)

	// The reservation happened synchronously: one worker is already busy.
	assert.Equal(t, 1, pool.BusyCount())

	ok, err = pool.TrySubmit(context.Background(), &domain.Job{ID: "b"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, pool.BusyCount())

	ok, err = pool.TrySubmit(context.Background(), &domain.Job{ID: "c"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPoolRejectsWhenStopped(t *testing.T) {
	cfg := DefaultConfig()
	pool, err := NewPool(cfg, func(_ context.Context, _ *domain.Job) error { return nil }, logger.Nop())
	require.NoError(t, err)

	_, err = pool.TrySubmit(context.Background(), &domain.Job{ID: "a"})
	assert.Error(t, err)
}

func TestPoolStopDrains(t *testing.T) {
	var mu sync.Mutex
	finished := false

	pool := testPool(t, 1, func(_ context.Context, _ *domain.Job) error {
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	})

	ok, err := pool.TrySubmit(context.Background(), &domain.Job{ID: "a"})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, pool.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished, "stop must wait for the in-flight job")
}

func TestWorkerProcessRejectsWhenBusy(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})

	w := NewWorker(0, func(_ context.Context, _ *domain.Job) error {
		close(started)
		<-block
		return nil
	}, time.Minute, logger.Nop())

	go func() {
		_ = w.Process(context.Background(), &domain.Job{ID: "a"})
	}()
	<-started

	err := w.Process(context.Background(), &domain.Job{ID: "b"})
	assert.Error(t, err, "busy worker must refuse a second job")

	close(block)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.PoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PoolSize = MaxPoolSize + 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.JobTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestWorkerStatsHealth(t *testing.T) {
	stats := WorkerStats{State: WorkerStateIdle}
	assert.True(t, stats.IsHealthy())

	stats = WorkerStats{State: WorkerStateStopped}
	assert.False(t, stats.IsHealthy())

	stats = WorkerStats{
		State:        WorkerStateBusy,
		JobStartedAt: time.Now().Add(-3 * time.Minute),
		JobTimeout:   time.Minute,
	}
	assert.False(t, stats.IsHealthy(), "busy past twice the timeout is stuck")
}
