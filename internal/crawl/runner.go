// Package crawl runs one claimed job end to end: discovery, batch
// extraction, deduplication, and the terminal job transition.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/north-cloud/category-crawler/internal/breaker"
	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/dedup"
	"github.com/north-cloud/category-crawler/internal/discovery"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/events"
	"github.com/north-cloud/category-crawler/internal/extract"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/metrics"
)

// Extractor resolves candidate links into extraction results.
type Extractor interface {
	ExtractBatch(ctx context.Context, links []domain.CandidateLink) []extract.Result
}

// Reconciler applies the deduplication decision for one extracted article.
type Reconciler interface {
	Reconcile(ctx context.Context, extracted *domain.ExtractedArticle, categoryID, jobID string, relevance float64) (dedup.Outcome, error)
}

// Config holds the runner's retry and deadline policy.
type Config struct {
	// MaxRetries bounds re-enqueues before a job fails terminally.
	MaxRetries int

	// RetryBaseDelay is the first retry delay; each retry doubles it.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the doubled delay.
	RetryMaxDelay time.Duration

	// JobDeadline is the soft cap on one job's total runtime.
	JobDeadline time.Duration

	// SuccessRateFloor trips the aggregator breaker when the rolling batch
	// success rate falls below it with a full observation window.
	SuccessRateFloor float64

	// AggregatorTarget names the breaker guarding aggregator traffic.
	AggregatorTarget string
}

// DefaultConfig returns the production runner policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryBaseDelay:   60 * time.Second,
		RetryMaxDelay:    15 * time.Minute,
		JobDeadline:      25 * time.Minute,
		SuccessRateFloor: 0.20,
		AggregatorTarget: "aggregator",
	}
}

// Runner executes claimed jobs.
type Runner struct {
	cfg        Config
	jobs       database.JobStore
	categories database.CategoryStore
	searcher   discovery.Searcher
	extractor  Extractor
	reconciler Reconciler
	breakers   *breaker.Registry
	collector  *metrics.Collector
	publisher  *events.Publisher
	logger     logger.Logger
}

// NewRunner wires a runner from its collaborators. publisher may be nil.
func NewRunner(
	cfg Config,
	jobs database.JobStore,
	categories database.CategoryStore,
	searcher discovery.Searcher,
	extractor Extractor,
	reconciler Reconciler,
	breakers *breaker.Registry,
	collector *metrics.Collector,
	publisher *events.Publisher,
	log logger.Logger,
) *Runner {
	return &Runner{
		cfg:        cfg,
		jobs:       jobs,
		categories: categories,
		searcher:   searcher,
		extractor:  extractor,
		reconciler: reconciler,
		breakers:   breakers,
		collector:  collector,
		publisher:  publisher,
		logger:     log,
	}
}

// Run executes one Running job to a terminal or requeued state. The passed
// context carries job cancellation; the soft deadline is layered on top.
func (r *Runner) Run(ctx context.Context, job *domain.Job) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JobDeadline)
	defer cancel()

	log := r.logger.With(
		logger.String("job_id", job.ID),
		logger.String("category_id", job.CategoryID),
		logger.String("correlation_id", job.CorrelationID),
	)
	log.Info("job started", logger.Int("retry_count", job.RetryCount))

	category, err := r.categories.GetByID(ctx, job.CategoryID)
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx, job, 0, 0, log)
		}
		return r.fail(ctx, job, fmt.Sprintf("load category: %v", err), 0, 0, log)
	}
	snapshot := category.Snapshot(time.Now().UTC())

	aggregatorBreaker := r.breakers.Get(r.cfg.AggregatorTarget)
	if allowErr := aggregatorBreaker.Allow(); allowErr != nil {
		// Do not burn a retry attempt on a known-bad dependency; park the
		// job until the cooldown has passed.
		return r.park(ctx, job, allowErr.Error(), aggregatorBreaker.RemainingCooldown(), log)
	}

	candidates, err := r.searcher.Search(ctx, snapshot)
	if err != nil {
		aggregatorBreaker.RecordFailure()
		if ctx.Err() != nil {
			return r.abort(ctx, job, 0, 0, log)
		}
		return r.retryOrFail(ctx, job, fmt.Sprintf("discovery: %v", err), log)
	}
	aggregatorBreaker.RecordSuccess()

	if len(candidates) == 0 {
		log.Info("no candidates discovered")
		return r.complete(ctx, job, snapshot, 0, 0, log)
	}

	results := r.extractor.ExtractBatch(ctx, candidates)
	succeeded := extract.CountSuccesses(results)

	rate := r.collector.BatchObserved(len(candidates), succeeded)
	if r.collector.WindowFull() && rate < r.cfg.SuccessRateFloor {
		log.Warn("batch success rate collapsed, tripping aggregator breaker",
			logger.Float64("rate", rate),
			logger.Float64("floor", r.cfg.SuccessRateFloor),
		)
		aggregatorBreaker.Trip()
	}

	if ctx.Err() != nil {
		return r.abort(ctx, job, len(candidates), 0, log)
	}

	if succeeded == 0 {
		return r.retryOrFail(ctx, job, fmt.Sprintf("extraction: all %d candidates failed", len(candidates)), log)
	}

	saved := r.reconcileAll(ctx, job, results, log)

	if ctx.Err() != nil {
		return r.abort(ctx, job, len(candidates), saved, log)
	}

	return r.complete(ctx, job, snapshot, len(candidates), saved, log)
}

// reconcileAll persists successful extractions and returns the net number of
// inserted plus updated articles. Per-article persistence failures are
// logged and skipped, matching the partial-failure policy for extraction.
func (r *Runner) reconcileAll(ctx context.Context, job *domain.Job, results []extract.Result, log logger.Logger) int {
	inserted, updated, unchanged := 0, 0, 0

	for _, result := range results {
		if !result.OK() {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		relevance := relevanceFor(result.Link)
		outcome, err := r.reconciler.Reconcile(ctx, result.Article, job.CategoryID, job.ID, relevance)
		if err != nil {
			log.Warn("reconcile failed",
				logger.String("url", result.Article.URL),
				logger.Error(err),
			)
			continue
		}

		switch outcome {
		case dedup.OutcomeInserted:
			inserted++
		case dedup.OutcomeUpdated:
			updated++
		case dedup.OutcomeUnchanged:
			unchanged++
		}
	}

	r.collector.Reconciled(inserted, updated, unchanged)
	log.Info("reconciliation finished",
		logger.Int("inserted", inserted),
		logger.Int("updated", updated),
		logger.Int("unchanged", unchanged),
	)

	return inserted + updated
}

func (r *Runner) complete(ctx context.Context, job *domain.Job, snapshot domain.KeywordSnapshot, found, saved int, log logger.Logger) error {
	if err := r.jobs.Complete(ctx, job.ID, found, saved); err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}

	r.collector.JobCompleted(found)
	r.publisher.Publish(ctx, events.Completed(job.ID, job.CategoryID, job.CorrelationID, found, saved))

	log.Info("job completed",
		logger.String("category", snapshot.Name),
		logger.Int("articles_found", found),
		logger.Int("articles_saved", saved),
	)
	return nil
}

func (r *Runner) fail(ctx context.Context, job *domain.Job, message string, found, saved int, log logger.Logger) error {
	// Terminal writes must survive job-context cancellation.
	storeCtx := context.WithoutCancel(ctx)
	if err := r.jobs.Fail(storeCtx, job.ID, message, found, saved); err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}

	r.collector.JobFailed()
	r.publisher.Publish(storeCtx, events.Failed(job.ID, job.CategoryID, job.CorrelationID, message))

	log.Error("job failed", logger.String("error", message))
	return nil
}

// abort resolves a cancelled job context. A shutdown cancellation hands the
// claim back untouched; everything else is a real terminal failure.
func (r *Runner) abort(ctx context.Context, job *domain.Job, found, saved int, log logger.Logger) error {
	if errors.Is(context.Cause(ctx), domain.ErrShutdown) {
		if err := r.jobs.Release(context.WithoutCancel(ctx), job.ID); err != nil {
			return fmt.Errorf("release job %s: %w", job.ID, err)
		}
		log.Info("job released for shutdown")
		return nil
	}
	return r.fail(ctx, job, deadlineMessage(ctx), found, saved, log)
}

// retryOrFail re-enqueues the job with doubled backoff, or fails it once the
// retry budget is spent.
func (r *Runner) retryOrFail(ctx context.Context, job *domain.Job, message string, log logger.Logger) error {
	if job.RetryCount >= r.cfg.MaxRetries {
		return r.fail(ctx, job, fmt.Sprintf("%s (retries exhausted after %d attempts)", message, job.RetryCount), 0, 0, log)
	}
	return r.requeue(ctx, job, message, r.backoffDelay(job.RetryCount), log)
}

func (r *Runner) requeue(ctx context.Context, job *domain.Job, message string, delay time.Duration, log logger.Logger) error {
	storeCtx := context.WithoutCancel(ctx)
	if err := r.jobs.Requeue(storeCtx, job.ID, message, delay); err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}

	r.collector.JobRequeued()
	r.publisher.Publish(storeCtx, events.Requeued(job.ID, job.CategoryID, job.CorrelationID, message))

	log.Warn("job requeued",
		logger.String("error", message),
		logger.Duration("delay", delay),
		logger.Int("retry_count", job.RetryCount+1),
	)
	return nil
}

// park delays the job without consuming a retry: the wait is caused by a
// known-bad dependency, not by the job itself.
func (r *Runner) park(ctx context.Context, job *domain.Job, reason string, delay time.Duration, log logger.Logger) error {
	storeCtx := context.WithoutCancel(ctx)
	if err := r.jobs.Park(storeCtx, job.ID, reason, delay); err != nil {
		return fmt.Errorf("park job %s: %w", job.ID, err)
	}

	r.collector.JobRequeued()
	r.publisher.Publish(storeCtx, events.Requeued(job.ID, job.CategoryID, job.CorrelationID, reason))

	log.Warn("job parked",
		logger.String("error", reason),
		logger.Duration("delay", delay),
	)
	return nil
}

// backoffDelay doubles the base delay per prior retry, capped, then spreads
// the result across [delay/2, delay) so retries for different categories do
// not line up on the same instant.
func (r *Runner) backoffDelay(retryCount int) time.Duration {
	delay := r.cfg.RetryBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= r.cfg.RetryMaxDelay {
			delay = r.cfg.RetryMaxDelay
			break
		}
	}
	if delay < 2 {
		return delay
	}
	return delay/2 + rand.N(delay/2)
}

// relevanceFor scores the article-to-category association. A keyword match
// in the aggregator headline is the strongest signal available here.
func relevanceFor(link domain.CandidateLink) float64 {
	if link.MatchedKeyword != "" {
		return 1.0
	}
	return 0.5
}

func deadlineMessage(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "job deadline exceeded"
	}
	return fmt.Sprintf("job cancelled: %v", context.Cause(ctx))
}
