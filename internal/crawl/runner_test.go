package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/category-crawler/internal/breaker"
	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/dedup"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/extract"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/metrics"
)

// --- fakes ---

type fakeJobStore struct {
	database.JobStore

	completed *struct{ found, saved int }
	failed    *string
	released  bool
	requeued  *struct {
		message string
		delay   time.Duration
	}
	parked *struct {
		reason string
		delay  time.Duration
	}
}

func (f *fakeJobStore) Complete(_ context.Context, _ string, found, saved int) error {
	f.completed = &struct{ found, saved int }{found, saved}
	return nil
}

func (f *fakeJobStore) Fail(_ context.Context, _, message string, _, _ int) error {
	f.failed = &message
	return nil
}

func (f *fakeJobStore) Requeue(_ context.Context, _, message string, delay time.Duration) error {
	f.requeued = &struct {
		message string
		delay   time.Duration
	}{message, delay}
	return nil
}

func (f *fakeJobStore) Park(_ context.Context, _, reason string, delay time.Duration) error {
	f.parked = &struct {
		reason string
		delay  time.Duration
	}{reason, delay}
	return nil
}

func (f *fakeJobStore) Release(_ context.Context, _ string) error {
	f.released = true
	return nil
}

type fakeCategoryStore struct {
	database.CategoryStore
	category *domain.Category
}

func (f *fakeCategoryStore) GetByID(_ context.Context, _ string) (*domain.Category, error) {
	return f.category, nil
}

type fakeSearcher struct {
	links []domain.CandidateLink
	err   error
	calls int
}

func (f *fakeSearcher) Search(_ context.Context, _ domain.KeywordSnapshot) ([]domain.CandidateLink, error) {
	f.calls++
	return f.links, f.err
}

type fakeExtractor struct {
	succeedFirst int
}

func (f *fakeExtractor) ExtractBatch(_ context.Context, links []domain.CandidateLink) []extract.Result {
	results := make([]extract.Result, len(links))
	for i, link := range links {
		if i < f.succeedFirst {
			results[i] = extract.Result{
				Link:    link,
				Article: &domain.ExtractedArticle{URL: link.URL, Title: link.Title, Text: "body " + link.URL},
			}
		} else {
			results[i] = extract.Result{Link: link, Reason: extract.ReasonNoRedirect, Err: errors.New("no redirect")}
		}
	}
	return results
}

type fakeReconciler struct {
	outcomes  []dedup.Outcome
	calls     int
	lastJobID string
}

func (f *fakeReconciler) Reconcile(_ context.Context, _ *domain.ExtractedArticle, _, jobID string, _ float64) (dedup.Outcome, error) {
	outcome := dedup.OutcomeInserted
	if f.calls < len(f.outcomes) {
		outcome = f.outcomes[f.calls]
	}
	f.calls++
	f.lastJobID = jobID
	return outcome, nil
}

// --- harness ---

type harness struct {
	jobs       *fakeJobStore
	searcher   *fakeSearcher
	extractor  *fakeExtractor
	reconciler *fakeReconciler
	breakers   *breaker.Registry
	collector  *metrics.Collector
	runner     *Runner
}

func newHarness(candidates, succeed int) *harness {
	links := make([]domain.CandidateLink, candidates)
	for i := range links {
		links[i] = domain.CandidateLink{
			URL:            fmt.Sprintf("https://news.google.com/articles/%d", i),
			Title:          fmt.Sprintf("AI story %d", i),
			MatchedKeyword: "AI",
		}
	}

	h := &harness{
		jobs:       &fakeJobStore{},
		searcher:   &fakeSearcher{links: links},
		extractor:  &fakeExtractor{succeedFirst: succeed},
		reconciler: &fakeReconciler{},
		breakers:   breaker.NewRegistry(breaker.DefaultConfig()),
		collector:  metrics.NewCollector(20),
	}

	categories := &fakeCategoryStore{category: &domain.Category{
		ID:              "cat-tech",
		Name:            "Tech",
		IncludeKeywords: []string{"AI", "chips"},
		Enabled:         true,
	}}

	h.runner = NewRunner(DefaultConfig(), h.jobs, categories, h.searcher, h.extractor, h.reconciler, h.breakers, h.collector, nil, logger.Nop())
	return h
}

func pendingJob(retries int) *domain.Job {
	return &domain.Job{
		ID:         "job-1",
		CategoryID: "cat-tech",
		Priority:   domain.PriorityDefault,
		Status:     domain.JobStatusRunning,
		RetryCount: retries,
	}
}

// --- tests ---

func TestRunnerEndToEnd(t *testing.T) {
	h := newHarness(12, 5)

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(0)))

	require.NotNil(t, h.jobs.completed)
	assert.Equal(t, 12, h.jobs.completed.found)
	assert.Equal(t, 5, h.jobs.completed.saved)
	assert.Equal(t, 5, h.reconciler.calls)
	assert.Equal(t, "job-1", h.reconciler.lastJobID)

	snapshot := h.collector.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.JobsCompleted)
	assert.Equal(t, int64(5), snapshot.ArticlesInserted)
}

func TestRunnerPartialFailureStillCompletes(t *testing.T) {
	h := newHarness(10, 4)

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(0)))

	require.NotNil(t, h.jobs.completed)
	assert.Equal(t, 10, h.jobs.completed.found)
	assert.LessOrEqual(t, h.jobs.completed.saved, 4)
	assert.Nil(t, h.jobs.failed)
	assert.Nil(t, h.jobs.requeued)
}

func TestRunnerUnchangedNotCountedAsSaved(t *testing.T) {
	h := newHarness(3, 3)
	h.reconciler.outcomes = []dedup.Outcome{dedup.OutcomeInserted, dedup.OutcomeUpdated, dedup.OutcomeUnchanged}

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(0)))

	require.NotNil(t, h.jobs.completed)
	assert.Equal(t, 2, h.jobs.completed.saved)
}

func TestRunnerDiscoveryFailureRequeues(t *testing.T) {
	h := newHarness(0, 0)
	h.searcher.err = errors.New("aggregator unreachable")

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(0)))

	require.NotNil(t, h.jobs.requeued)
	assert.GreaterOrEqual(t, h.jobs.requeued.delay, 30*time.Second)
	assert.Less(t, h.jobs.requeued.delay, 60*time.Second)
	assert.Contains(t, h.jobs.requeued.message, "discovery")
	assert.Nil(t, h.jobs.completed)
}

func TestRunnerRetriesExhaustedFails(t *testing.T) {
	h := newHarness(0, 0)
	h.searcher.err = errors.New("aggregator unreachable")

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(3)))

	require.NotNil(t, h.jobs.failed)
	assert.Contains(t, *h.jobs.failed, "retries exhausted")
	assert.Nil(t, h.jobs.requeued)
}

func TestRunnerTotalExtractionFailureRequeues(t *testing.T) {
	h := newHarness(8, 0)

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(1)))

	require.NotNil(t, h.jobs.requeued)
	assert.GreaterOrEqual(t, h.jobs.requeued.delay, 60*time.Second, "second retry doubles the base delay")
	assert.Less(t, h.jobs.requeued.delay, 120*time.Second)
	assert.Nil(t, h.jobs.completed)
}

func TestRunnerBreakerOpenParksJob(t *testing.T) {
	h := newHarness(5, 5)
	h.breakers.Get(DefaultConfig().AggregatorTarget).Trip()

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(0)))

	require.NotNil(t, h.jobs.parked)
	assert.Greater(t, h.jobs.parked.delay, time.Minute)
	assert.Nil(t, h.jobs.requeued, "a breaker park must not consume the retry budget")
	assert.Zero(t, h.searcher.calls, "open breaker must fail fast without network calls")
}

func TestRunnerZeroCandidatesCompletes(t *testing.T) {
	h := newHarness(0, 0)

	require.NoError(t, h.runner.Run(context.Background(), pendingJob(0)))

	require.NotNil(t, h.jobs.completed)
	assert.Equal(t, 0, h.jobs.completed.found)
	assert.Equal(t, 0, h.jobs.completed.saved)
}

func TestRunnerCancellationFailsJob(t *testing.T) {
	h := newHarness(5, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.runner.Run(ctx, pendingJob(0)))

	require.NotNil(t, h.jobs.failed)
	assert.Contains(t, *h.jobs.failed, "cancelled")
	assert.Nil(t, h.jobs.completed)
}

func TestRunnerShutdownReleasesJob(t *testing.T) {
	h := newHarness(5, 5)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrShutdown)

	require.NoError(t, h.runner.Run(ctx, pendingJob(0)))

	assert.True(t, h.jobs.released, "shutdown must hand the claim back")
	assert.Nil(t, h.jobs.failed)
	assert.Nil(t, h.jobs.requeued)
	assert.Nil(t, h.jobs.completed)
}

func TestBackoffDelayDoublesWithJitter(t *testing.T) {
	r := &Runner{cfg: DefaultConfig()}

	bases := map[int]time.Duration{
		0:  60 * time.Second,
		1:  120 * time.Second,
		2:  240 * time.Second,
		10: 15 * time.Minute,
	}

	for retries, base := range bases {
		for range 20 {
			delay := r.backoffDelay(retries)
			assert.GreaterOrEqual(t, delay, base/2, "retry %d", retries)
			assert.Less(t, delay, base, "retry %d", retries)
		}
	}
}
