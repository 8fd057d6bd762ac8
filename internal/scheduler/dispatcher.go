package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/worker"
)

const (
	// defaultPollInterval is how often the dispatcher looks for claimable jobs.
	defaultPollInterval = 5 * time.Second

	// reapInterval is how often the dispatcher sweeps for abandoned claims.
	reapInterval = time.Minute

	// staleClaimMultiplier is applied to the job timeout when judging whether
	// a running row's claim is abandoned. No live worker holds a claim past
	// its timeout, so twice that is safely dead.
	staleClaimMultiplier = 2
)

// Dispatcher polls the job store, claims the highest-priority eligible job,
// and hands it to the worker pool. Each dispatched job gets its own
// cancellable context so force-deletes can abort it mid-flight.
type Dispatcher struct {
	jobs         database.JobStore
	pool         *worker.Pool
	logger       logger.Logger
	pollInterval time.Duration
	staleAfter   time.Duration

	activeJobs   map[string]context.CancelCauseFunc
	activeJobsMu sync.Mutex

	// baseCtx drives claiming only. Job contexts hang off jobCtx, which Stop
	// cancels with domain.ErrShutdown after the drain, so in-flight work is
	// not aborted the moment a shutdown signal arrives.
	baseCtx    context.Context
	cancel     context.CancelFunc
	jobCtx     context.Context
	cancelJobs context.CancelCauseFunc
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher and its worker pool. The handler is
// wrapped so finished jobs deregister from the active set.
func NewDispatcher(jobs database.JobStore, handler worker.JobHandler, poolCfg worker.Config, pollInterval time.Duration, log logger.Logger) (*Dispatcher, error) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	d := &Dispatcher{
		jobs:         jobs,
		logger:       log,
		pollInterval: pollInterval,
		staleAfter:   staleClaimMultiplier * poolCfg.JobTimeout,
		activeJobs:   make(map[string]context.CancelCauseFunc),
	}

	pool, err := worker.NewPool(poolCfg, d.wrapHandler(handler), log)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	d.pool = pool

	return d, nil
}

// Start launches the pool and the claim loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.pool.Start(); err != nil {
		return err
	}

	d.baseCtx, d.cancel = context.WithCancel(ctx)
	d.jobCtx, d.cancelJobs = context.WithCancelCause(context.WithoutCancel(ctx))

	d.wg.Add(1)
	go d.claimLoop()

	d.logger.Info("dispatcher started",
		logger.Duration("poll_interval", d.pollInterval),
		logger.Int("pool_size", d.pool.Size()),
	)
	return nil
}

// Stop halts claiming and drains the pool. In-flight jobs keep running until
// the drain deadline; whatever outlives it is cancelled with the shutdown
// cause, which the runner turns into a release back to pending.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	err := d.pool.Stop(ctx)

	if d.cancelJobs != nil {
		d.cancelJobs(domain.ErrShutdown)
	}
	return err
}

// Cancel aborts one in-flight job. Returns false when the job is not
// currently dispatched on this process.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.activeJobsMu.Lock()
	cancel, ok := d.activeJobs[jobID]
	d.activeJobsMu.Unlock()

	if !ok {
		return false
	}
	cancel(nil)
	return true
}

// ActiveCount returns the number of jobs currently dispatched.
func (d *Dispatcher) ActiveCount() int {
	d.activeJobsMu.Lock()
	defer d.activeJobsMu.Unlock()
	return len(d.activeJobs)
}

// Pool exposes the worker pool for health checks.
func (d *Dispatcher) Pool() *worker.Pool {
	return d.pool
}

func (d *Dispatcher) claimLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	reaper := time.NewTicker(reapInterval)
	defer reaper.Stop()

	d.reapAbandoned()

	for {
		select {
		case <-d.baseCtx.Done():
			return
		case <-reaper.C:
			d.reapAbandoned()
		case <-ticker.C:
			d.dispatchAvailable()
		}
	}
}

// reapAbandoned releases running rows whose claim outlived the worker that
// held it, such as after a crash mid-job. Without the sweep a stranded
// running row blocks its category forever: Claim skips categories with a
// running job.
func (d *Dispatcher) reapAbandoned() {
	n, err := d.jobs.ReleaseAbandoned(d.baseCtx, d.staleAfter)
	if err != nil {
		if d.baseCtx.Err() == nil {
			d.logger.Error("abandoned claim sweep failed", logger.Error(err))
		}
		return
	}
	if n > 0 {
		d.logger.Warn("released abandoned running jobs", logger.Int("count", n))
	}
}

// dispatchAvailable claims and dispatches jobs until the pool is saturated
// or the queue is empty.
func (d *Dispatcher) dispatchAvailable() {
	for d.pool.IdleCount() > 0 {
		if d.baseCtx.Err() != nil {
			return
		}
		if !d.dispatchOne() {
			return
		}
	}
}

// dispatchOne claims a single job and submits it. Returns false when there
// is nothing left to dispatch.
func (d *Dispatcher) dispatchOne() bool {
	job, err := d.jobs.Claim(d.baseCtx)
	if err != nil {
		if !errors.Is(err, database.ErrNoJobAvailable) {
			d.logger.Error("job claim failed", logger.Error(err))
		}
		return false
	}

	jobCtx, cancelJob := context.WithCancelCause(d.jobCtx)
	d.register(job.ID, cancelJob)

	ok, err := d.pool.TrySubmit(jobCtx, job)
	if err != nil || !ok {
		// Claim raced a pool slot away; put the job back untouched.
		d.deregister(job.ID)
		cancelJob(nil)
		if releaseErr := d.jobs.Release(context.WithoutCancel(d.baseCtx), job.ID); releaseErr != nil {
			d.logger.Error("failed to release unclaimed job",
				logger.String("job_id", job.ID),
				logger.Error(releaseErr),
			)
		}
		return false
	}

	d.logger.Debug("job dispatched",
		logger.String("job_id", job.ID),
		logger.String("category_id", job.CategoryID),
		logger.Int("priority", job.Priority),
	)
	return true
}

// wrapHandler deregisters the job and releases its context when the handler
// returns.
func (d *Dispatcher) wrapHandler(handler worker.JobHandler) worker.JobHandler {
	return func(ctx context.Context, job *domain.Job) error {
		defer d.deregister(job.ID)
		return handler(ctx, job)
	}
}

func (d *Dispatcher) register(jobID string, cancel context.CancelCauseFunc) {
	d.activeJobsMu.Lock()
	d.activeJobs[jobID] = cancel
	d.activeJobsMu.Unlock()
}

func (d *Dispatcher) deregister(jobID string) {
	d.activeJobsMu.Lock()
	cancel, ok := d.activeJobs[jobID]
	delete(d.activeJobs, jobID)
	d.activeJobsMu.Unlock()

	if ok {
		cancel(nil)
	}
}

var _ JobCanceller = (*Dispatcher)(nil)
