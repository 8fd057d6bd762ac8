package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// PoolState represents the current state of the pool.
type PoolState int32

const (
	// PoolStateStopped means the pool is not running.
	PoolStateStopped PoolState = iota

	// PoolStateRunning means the pool is actively processing jobs.
	PoolStateRunning

	// PoolStateDraining means the pool is shutting down gracefully.
	PoolStateDraining
)

// String returns the string representation of a pool state.
func (s PoolState) String() string {
	switch s {
	case PoolStateStopped:
		return "stopped"
	case PoolStateRunning:
		return "running"
	case PoolStateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Pool manages a bounded set of workers. Concurrency is enforced by a
// semaphore sized to the pool.
type Pool struct {
	config  Config
	workers []*Worker
	handler JobHandler
	logger  logger.Logger
	state   atomic.Int32
	sem     chan struct{}
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex

	totalJobsProcessed atomic.Int64
	totalJobsFailed    atomic.Int64
}

// NewPool creates a new worker pool.
func NewPool(cfg Config, handler JobHandler, log logger.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	p := &Pool{
		config:  cfg,
		handler: handler,
		logger:  log,
		workers: make([]*Worker, cfg.PoolSize),
		sem:     make(chan struct{}, cfg.PoolSize),
		stopCh:  make(chan struct{}),
	}

	for i := range cfg.PoolSize {
		p.workers[i] = NewWorker(i, handler, cfg.JobTimeout, log)
	}

	p.state.Store(int32(PoolStateStopped))

	return p, nil
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	if !p.state.CompareAndSwap(int32(PoolStateStopped), int32(PoolStateRunning)) {
		return errors.New("pool is already running")
	}

	p.logger.Info("worker pool started",
		logger.Int("pool_size", p.config.PoolSize),
	)

	return nil
}

// Stop drains the pool, waiting up to the drain timeout for in-flight jobs.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PoolStateRunning), int32(PoolStateDraining)) {
		return errors.New("pool is not running")
	}

	p.logger.Info("worker pool draining")

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop cancelled")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("worker pool drain timeout exceeded")
	}

	p.state.Store(int32(PoolStateStopped))
	return nil
}

// TrySubmit hands a job to an idle worker without blocking. The worker is
// reserved before TrySubmit returns, so a true result means the job will run:
// no accepted job is ever dropped. Returns false when every worker is busy;
// the dispatcher releases the claim and retries on its next poll.
func (p *Pool) TrySubmit(ctx context.Context, job *domain.Job) (bool, error) {
	if p.State() != PoolStateRunning {
		return false, errors.New("pool is not running")
	}
	if job == nil {
		return false, errors.New("job cannot be nil")
	}

	select {
	case p.sem <- struct{}{}:
	default:
		return false, nil
	}

	w := p.reserveWorker()
	if w == nil {
		// A finished worker frees its slot only after going idle, so a held
		// slot guarantees an idle worker. Reject rather than drop regardless.
		<-p.sem
		return false, nil
	}

	p.wg.Add(1)

	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()

		err := w.run(ctx, job)

		p.totalJobsProcessed.Add(1)
		if err != nil {
			p.totalJobsFailed.Add(1)
		}
	}()

	return true, nil
}

// reserveWorker claims an idle worker via its compare-and-swap, so concurrent
// submitters cannot pick the same one.
func (p *Pool) reserveWorker() *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, w := range p.workers {
		if w.Reserve() {
			return w
		}
	}
	return nil
}

// State returns the current pool state.
func (p *Pool) State() PoolState {
	return PoolState(p.state.Load())
}

// IsRunning returns true if the pool is running.
func (p *Pool) IsRunning() bool {
	return p.State() == PoolStateRunning
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.config.PoolSize
}

// BusyCount returns the number of busy workers.
func (p *Pool) BusyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, w := range p.workers {
		if w.IsBusy() {
			count++
		}
	}
	return count
}

// IdleCount returns the number of idle workers.
func (p *Pool) IdleCount() int {
	return p.Size() - p.BusyCount()
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	workerStats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		workerStats[i] = w.Stats()
	}

	return PoolStats{
		State:         p.State(),
		PoolSize:      p.config.PoolSize,
		BusyWorkers:   p.BusyCount(),
		IdleWorkers:   p.IdleCount(),
		JobsProcessed: p.totalJobsProcessed.Load(),
		JobsFailed:    p.totalJobsFailed.Load(),
		Workers:       workerStats,
	}
}

// PoolStats holds statistics for the pool.
type PoolStats struct {
	State         PoolState
	PoolSize      int
	BusyWorkers   int
	IdleWorkers   int
	JobsProcessed int64
	JobsFailed    int64
	Workers       []WorkerStats
}

// Utilization returns the pool utilization as a percentage.
func (s PoolStats) Utilization() float64 {
	if s.PoolSize == 0 {
		return 0
	}
	return float64(s.BusyWorkers) / float64(s.PoolSize) * 100
}
