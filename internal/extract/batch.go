package extract

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// Pacer throttles aggregator-bound navigations across all concurrent
// sessions. Satisfied by ratelimit.Pacer.
type Pacer interface {
	Wait(ctx context.Context) error
}

// BatchExtractor resolves candidate links in small browser-session batches,
// with randomized pacing between tabs and between sessions. Non-aggregator
// links bypass the session machinery and go through the direct fetch path.
type BatchExtractor struct {
	cfg      Config
	sessions SessionFactory
	direct   *DirectExtractor
	pacer    Pacer
	hosts    HostWaiter
	logger   logger.Logger
}

// NewBatchExtractor creates a batch extractor. sessions defaults to
// NewChromeSession when nil; pacer and hosts may be nil, in which case the
// session path runs unthrottled beyond its own randomized delays.
func NewBatchExtractor(cfg Config, sessions SessionFactory, direct *DirectExtractor, pacer Pacer, hosts HostWaiter, log logger.Logger) *BatchExtractor {
	if sessions == nil {
		sessions = NewChromeSession
	}
	return &BatchExtractor{
		cfg:      cfg,
		sessions: sessions,
		direct:   direct,
		pacer:    pacer,
		hosts:    hosts,
		logger:   log,
	}
}

// ExtractBatch processes every candidate and returns one result per input,
// in input order. Per-tab failures are contained: a failing or panicking tab
// yields a failure record, never aborts its batch.
func (e *BatchExtractor) ExtractBatch(ctx context.Context, links []domain.CandidateLink) []Result {
	results := make([]Result, len(links))

	sessionIdx, directIdx := e.partition(links)

	e.extractSessions(ctx, links, sessionIdx, results)

	if len(directIdx) > 0 && e.direct != nil {
		e.direct.ExtractInto(ctx, links, directIdx, results)
	}

	return results
}

// partition splits candidate indices into the aggregator path and the
// direct-fetch path.
func (e *BatchExtractor) partition(links []domain.CandidateLink) (session, direct []int) {
	for i, link := range links {
		if e.isAggregator(link.URL) || e.direct == nil {
			session = append(session, i)
		} else {
			direct = append(direct, i)
		}
	}
	return session, direct
}

func (e *BatchExtractor) isAggregator(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, aggregator := range e.cfg.AggregatorHosts {
		if host == aggregator || strings.HasSuffix(host, "."+aggregator) {
			return true
		}
	}
	return false
}

// extractSessions runs the aggregator-path candidates through browser
// sessions, one batch per session, tabs strictly serialized.
func (e *BatchExtractor) extractSessions(ctx context.Context, links []domain.CandidateLink, indices []int, results []Result) {
	batches := partitionBatches(indices, e.cfg.BatchSize)

	for batchNum, batch := range batches {
		if ctx.Err() != nil {
			markCancelled(ctx, links, batch, results)
			continue
		}

		if batchNum > 0 {
			if err := sleepCtx(ctx, randDelay(e.cfg.InterBatchDelayMin, e.cfg.InterBatchDelayMax)); err != nil {
				markCancelled(ctx, links, batch, results)
				continue
			}
		}

		e.runSession(ctx, links, batch, batchNum, results)
	}
}

// runSession opens one browser session, processes the batch serially, and
// tears the session down.
func (e *BatchExtractor) runSession(ctx context.Context, links []domain.CandidateLink, batch []int, batchNum int, results []Result) {
	userAgent := pickUserAgent()

	session, err := e.sessions(ctx, e.cfg, userAgent, e.logger)
	if err != nil {
		e.logger.Warn("browser session failed to open",
			logger.Int("batch", batchNum),
			logger.Error(err),
		)
		for _, i := range batch {
			results[i] = Result{Link: links[i], Reason: ReasonSession, Err: err}
		}
		return
	}
	defer session.Close()

	for tabNum, i := range batch {
		if ctx.Err() != nil {
			results[i] = Result{Link: links[i], Reason: ReasonCancelled, Err: ctx.Err()}
			continue
		}

		if tabNum > 0 {
			if err := sleepCtx(ctx, randDelay(e.cfg.InterTabDelayMin, e.cfg.InterTabDelayMax)); err != nil {
				results[i] = Result{Link: links[i], Reason: ReasonCancelled, Err: err}
				continue
			}
		}

		// Every tab opens with an aggregator request; the shared pacer caps
		// the combined rate across concurrent sessions.
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx); err != nil {
				results[i] = Result{Link: links[i], Reason: ReasonCancelled, Err: err}
				continue
			}
		}

		results[i] = session.Resolve(ctx, links[i])
		e.chargePublisher(ctx, results[i])

		if !results[i].OK() {
			e.logger.Debug("candidate failed",
				logger.String("url", links[i].URL),
				logger.String("reason", string(results[i].Reason)),
			)
		}
	}

	e.logger.Info("session batch finished",
		logger.Int("batch", batchNum),
		logger.Int("links", len(batch)),
		logger.Int("succeeded", countSucceededAt(results, batch)),
	)
}

// chargePublisher counts a resolved tab against the publisher's per-domain
// budget. The redirect target is unknown until the tab lands, so the charge
// happens after the fetch; an exhausted window then stalls the batch before
// the next tab instead of the one already loaded.
func (e *BatchExtractor) chargePublisher(ctx context.Context, result Result) {
	if e.hosts == nil || result.Article == nil {
		return
	}
	u, err := url.Parse(result.Article.URL)
	if err != nil {
		return
	}
	// Wait's only error is context cancellation, which the next tab handles.
	_ = e.hosts.Wait(ctx, u.Hostname())
}

// partitionBatches splits indices into chunks of at most size.
func partitionBatches(indices []int, size int) [][]int {
	if size <= 0 {
		size = 10
	}
	var batches [][]int
	for start := 0; start < len(indices); start += size {
		end := start + size
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[start:end])
	}
	return batches
}

func markCancelled(ctx context.Context, links []domain.CandidateLink, batch []int, results []Result) {
	for _, i := range batch {
		results[i] = Result{Link: links[i], Reason: ReasonCancelled, Err: ctx.Err()}
	}
}

func countSucceededAt(results []Result, indices []int) int {
	n := 0
	for _, i := range indices {
		if results[i].OK() {
			n++
		}
	}
	return n
}

// randDelay returns a random duration in [lo, hi).
func randDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
