package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/worker"
)

// handlerRecorder collects handled job ids and counts per-job executions.
type handlerRecorder struct {
	mu      sync.Mutex
	order   []string
	counts  map[string]int
	handled chan string
	block   chan struct{}
}

func newHandlerRecorder(capacity int) *handlerRecorder {
	return &handlerRecorder{
		counts:  make(map[string]int),
		handled: make(chan string, capacity),
	}
}

func (h *handlerRecorder) handle(ctx context.Context, job *domain.Job) error {
	h.mu.Lock()
	h.order = append(h.order, job.ID)
	h.counts[job.ID]++
	h.mu.Unlock()

	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			h.handled <- job.ID
			return ctx.Err()
		}
	}

	h.handled <- job.ID
	return nil
}

func (h *handlerRecorder) snapshot() ([]string, map[string]int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	order := make([]string, len(h.order))
	copy(order, h.order)
	counts := make(map[string]int, len(h.counts))
	for id, n := range h.counts {
		counts[id] = n
	}
	return order, counts
}

func testDispatcher(t *testing.T, jobs *memJobStore, recorder *handlerRecorder, poolSize int) *Dispatcher {
	t.Helper()

	cfg := worker.Config{
		PoolSize:            poolSize,
		DrainTimeout:        2 * time.Second,
		JobTimeout:          5 * time.Second,
		HealthCheckInterval: time.Second,
	}

	d, err := NewDispatcher(jobs, recorder.handle, cfg, 10*time.Millisecond, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Stop(stopCtx)
	})

	return d
}

func seedPending(t *testing.T, jobs *memJobStore, categoryID string, priority int) *domain.Job {
	t.Helper()

	job, err := jobs.CreateOrBump(context.Background(), &domain.Job{
		CategoryID: categoryID,
		Priority:   priority,
		Status:     domain.JobStatusPending,
	})
	require.NoError(t, err)
	return job
}

func waitHandled(t *testing.T, recorder *handlerRecorder, n int) {
	t.Helper()

	for range n {
		select {
		case <-recorder.handled:
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for jobs to be handled")
		}
	}
}

func TestDispatcherRunsHigherPriorityFirst(t *testing.T) {
	jobs := newMemJobStore()
	low := seedPending(t, jobs, "cat-a", 2)
	high := seedPending(t, jobs, "cat-b", 9)

	recorder := newHandlerRecorder(4)
	testDispatcher(t, jobs, recorder, 1)

	waitHandled(t, recorder, 2)

	order, _ := recorder.snapshot()
	require.Equal(t, []string{high.ID, low.ID}, order)
}

func TestDispatcherNeverDoubleDispatches(t *testing.T) {
	jobs := newMemJobStore()
	seeded := make([]*domain.Job, 0, 5)
	for _, category := range []string{"cat-a", "cat-b", "cat-c", "cat-d", "cat-e"} {
		seeded = append(seeded, seedPending(t, jobs, category, domain.PriorityDefault))
	}

	recorder := newHandlerRecorder(10)
	testDispatcher(t, jobs, recorder, 3)

	waitHandled(t, recorder, len(seeded))

	// A few extra polls find nothing left to claim.
	time.Sleep(50 * time.Millisecond)

	_, counts := recorder.snapshot()
	for _, job := range seeded {
		assert.Equal(t, 1, counts[job.ID], "job %s dispatched more than once", job.ID)
	}
}

func TestDispatcherCancelAbortsInFlightJob(t *testing.T) {
	jobs := newMemJobStore()
	job := seedPending(t, jobs, "cat-a", domain.PriorityDefault)

	recorder := newHandlerRecorder(2)
	recorder.block = make(chan struct{})
	d := testDispatcher(t, jobs, recorder, 1)

	require.Eventually(t, func() bool {
		return d.ActiveCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, d.Cancel(job.ID))
	waitHandled(t, recorder, 1)

	assert.Eventually(t, func() bool {
		return d.ActiveCount() == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDispatcherCancelUnknownJob(t *testing.T) {
	jobs := newMemJobStore()
	recorder := newHandlerRecorder(1)
	d := testDispatcher(t, jobs, recorder, 1)

	assert.False(t, d.Cancel("no-such-job"))
}

func TestDispatcherRecoversAbandonedRunningJob(t *testing.T) {
	jobs := newMemJobStore()
	job := seedPending(t, jobs, "cat-a", domain.PriorityDefault)

	// A crashed process leaves the claim behind as a stale running row.
	_, err := jobs.Claim(context.Background())
	require.NoError(t, err)
	staleStart := time.Now().Add(-time.Hour)
	jobs.mu.Lock()
	jobs.jobs[job.ID].StartedAt = &staleStart
	jobs.mu.Unlock()

	recorder := newHandlerRecorder(2)
	testDispatcher(t, jobs, recorder, 1)

	// The sweep releases the row back to pending, after which the normal
	// claim path picks it up.
	waitHandled(t, recorder, 1)

	_, counts := recorder.snapshot()
	assert.Equal(t, 1, counts[job.ID])
}

func TestDispatcherStopDoesNotCancelInFlightJob(t *testing.T) {
	jobs := newMemJobStore()
	seedPending(t, jobs, "cat-a", domain.PriorityDefault)

	release := make(chan struct{})
	ctxErrs := make(chan error, 1)
	handler := func(ctx context.Context, _ *domain.Job) error {
		<-release
		ctxErrs <- ctx.Err()
		return nil
	}

	cfg := worker.Config{
		PoolSize:            1,
		DrainTimeout:        2 * time.Second,
		JobTimeout:          5 * time.Second,
		HealthCheckInterval: time.Second,
	}
	d, err := NewDispatcher(jobs, handler, cfg, 10*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		return d.ActiveCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	stopDone := make(chan error, 1)
	go func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopDone <- d.Stop(stopCtx)
	}()

	// The job keeps its context through the drain and finishes normally.
	time.Sleep(100 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopDone)
	require.NoError(t, <-ctxErrs, "drain must not cancel the in-flight job")
}

func TestDispatcherStopReleasesJobOutlivingDrain(t *testing.T) {
	jobs := newMemJobStore()
	job := seedPending(t, jobs, "cat-a", domain.PriorityDefault)

	causes := make(chan error, 1)
	handler := func(ctx context.Context, j *domain.Job) error {
		<-ctx.Done()
		causes <- context.Cause(ctx)
		// Mirror the runner's shutdown handling: hand the claim back.
		return jobs.Release(context.WithoutCancel(ctx), j.ID)
	}

	cfg := worker.Config{
		PoolSize:            1,
		DrainTimeout:        200 * time.Millisecond,
		JobTimeout:          5 * time.Second,
		HealthCheckInterval: time.Second,
	}
	d, err := NewDispatcher(jobs, handler, cfg, 10*time.Millisecond, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))

	require.Eventually(t, func() bool {
		return d.ActiveCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(stopCtx))

	assert.ErrorIs(t, <-causes, domain.ErrShutdown)

	require.Eventually(t, func() bool {
		stored, getErr := jobs.GetByID(context.Background(), job.ID)
		return getErr == nil && stored.Status == domain.JobStatusPending
	}, 3*time.Second, 10*time.Millisecond, "job outliving the drain goes back to pending")
}

func TestDispatcherSkipsDelayedJobs(t *testing.T) {
	jobs := newMemJobStore()
	job := seedPending(t, jobs, "cat-a", domain.PriorityDefault)

	// Push eligibility into the future, as a requeue with backoff would.
	jobs.mu.Lock()
	jobs.jobs[job.ID].EligibleAt = time.Now().Add(time.Hour)
	jobs.mu.Unlock()

	recorder := newHandlerRecorder(1)
	testDispatcher(t, jobs, recorder, 1)

	time.Sleep(60 * time.Millisecond)

	_, counts := recorder.snapshot()
	assert.Empty(t, counts)
}
