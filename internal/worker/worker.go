package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// WorkerState represents the current state of a worker.
type WorkerState int32

const (
	// WorkerStateIdle means the worker is waiting for work.
	WorkerStateIdle WorkerState = iota

	// WorkerStateBusy means the worker is processing a job.
	WorkerStateBusy

	// WorkerStateStopped means the worker has stopped.
	WorkerStateStopped

	// stuckThresholdMultiplier is applied to the job timeout when judging
	// whether a busy worker is stuck.
	stuckThresholdMultiplier = 2
)

// String returns the string representation of a worker state.
func (s WorkerState) String() string {
	switch s {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// JobHandler runs one claimed job to a terminal or requeued state.
type JobHandler func(ctx context.Context, job *domain.Job) error

// Worker is an individual worker in the pool.
type Worker struct {
	id         int
	state      atomic.Int32
	handler    JobHandler
	jobTimeout time.Duration
	logger     logger.Logger

	jobsProcessed atomic.Int64
	jobsSucceeded atomic.Int64
	jobsFailed    atomic.Int64
	lastJobAt     atomic.Int64

	currentJobID atomic.Value
	jobStartedAt atomic.Int64
}

// NewWorker creates a new worker.
func NewWorker(id int, handler JobHandler, jobTimeout time.Duration, log logger.Logger) *Worker {
	w := &Worker{
		id:         id,
		handler:    handler,
		jobTimeout: jobTimeout,
		logger:     log,
	}
	w.state.Store(int32(WorkerStateIdle))
	w.currentJobID.Store("")
	return w
}

// ID returns the worker ID.
func (w *Worker) ID() int {
	return w.id
}

// State returns the current worker state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// IsIdle returns true if the worker is idle.
func (w *Worker) IsIdle() bool {
	return w.State() == WorkerStateIdle
}

// IsBusy returns true if the worker is busy.
func (w *Worker) IsBusy() bool {
	return w.State() == WorkerStateBusy
}

// Reserve attempts the idle-to-busy transition. The compare-and-swap makes
// the reservation exclusive: two submitters can never share a worker.
func (w *Worker) Reserve() bool {
	return w.state.CompareAndSwap(int32(WorkerStateIdle), int32(WorkerStateBusy))
}

// Process reserves the worker and runs one job through the handler.
func (w *Worker) Process(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("worker %d: job cannot be nil", w.id)
	}

	if !w.Reserve() {
		return fmt.Errorf("worker %d: not idle, current state: %s", w.id, w.State())
	}

	return w.run(ctx, job)
}

// run executes the handler on an already-reserved worker and returns it to
// idle when done.
func (w *Worker) run(ctx context.Context, job *domain.Job) error {
	w.currentJobID.Store(job.ID)
	w.jobStartedAt.Store(time.Now().UnixNano())

	defer func() {
		w.currentJobID.Store("")
		w.jobStartedAt.Store(0)
		w.state.Store(int32(WorkerStateIdle))
	}()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	w.logger.Info("worker picked up job",
		logger.Int("worker_id", w.id),
		logger.String("job_id", job.ID),
	)

	startTime := time.Now()
	err := w.handler(jobCtx, job)
	duration := time.Since(startTime)

	w.jobsProcessed.Add(1)
	w.lastJobAt.Store(time.Now().UnixNano())

	if err != nil {
		w.jobsFailed.Add(1)
		w.logger.Error("worker job errored",
			logger.Int("worker_id", w.id),
			logger.String("job_id", job.ID),
			logger.Duration("duration", duration),
			logger.Error(err),
		)
		return fmt.Errorf("worker %d: job %s: %w", w.id, job.ID, err)
	}

	w.jobsSucceeded.Add(1)
	w.logger.Info("worker finished job",
		logger.Int("worker_id", w.id),
		logger.String("job_id", job.ID),
		logger.Duration("duration", duration),
	)

	return nil
}

// Stop marks the worker stopped.
func (w *Worker) Stop() {
	w.state.Store(int32(WorkerStateStopped))
}

// Stats returns the worker's statistics.
func (w *Worker) Stats() WorkerStats {
	currentJobID, _ := w.currentJobID.Load().(string)

	var lastJobTime time.Time
	if ts := w.lastJobAt.Load(); ts > 0 {
		lastJobTime = time.Unix(0, ts)
	}

	var jobStartTime time.Time
	if ts := w.jobStartedAt.Load(); ts > 0 {
		jobStartTime = time.Unix(0, ts)
	}

	return WorkerStats{
		ID:            w.id,
		State:         w.State(),
		JobsProcessed: w.jobsProcessed.Load(),
		JobsSucceeded: w.jobsSucceeded.Load(),
		JobsFailed:    w.jobsFailed.Load(),
		LastJobAt:     lastJobTime,
		CurrentJobID:  currentJobID,
		JobStartedAt:  jobStartTime,
		JobTimeout:    w.jobTimeout,
	}
}

// WorkerStats holds statistics for a worker.
type WorkerStats struct {
	ID            int
	State         WorkerState
	JobsProcessed int64
	JobsSucceeded int64
	JobsFailed    int64
	LastJobAt     time.Time
	CurrentJobID  string
	JobStartedAt  time.Time
	JobTimeout    time.Duration
}

// IsHealthy returns false for stopped workers and for busy workers that have
// exceeded twice their job timeout.
func (s WorkerStats) IsHealthy() bool {
	if s.State == WorkerStateStopped {
		return false
	}
	if s.State == WorkerStateBusy && !s.JobStartedAt.IsZero() {
		if time.Since(s.JobStartedAt) > stuckThresholdMultiplier*s.JobTimeout {
			return false
		}
	}
	return true
}
