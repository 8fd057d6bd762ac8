package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// maxDirectBodyBytes caps how much of a publisher page the direct path reads.
const maxDirectBodyBytes = 4 << 20

// HostWaiter blocks until a request to host fits its politeness budget.
// Satisfied by ratelimit.DomainLimiter.
type HostWaiter interface {
	Wait(ctx context.Context, host string) error
}

// DirectExtractor fetches non-aggregator URLs with a plain HTTP client. No
// session choreography is needed when there is no redirect to resolve.
type DirectExtractor struct {
	cfg     Config
	client  *http.Client
	parser  *ContentParser
	limiter HostWaiter
	logger  logger.Logger
}

// NewDirectExtractor creates a direct extractor. limiter may be nil, in
// which case fetches are unthrottled.
func NewDirectExtractor(cfg Config, limiter HostWaiter, log logger.Logger) *DirectExtractor {
	return &DirectExtractor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.NavTimeout},
		parser:  NewContentParser(cfg),
		limiter: limiter,
		logger:  log,
	}
}

// ExtractInto fetches the candidates at the given indices with bounded
// concurrency and writes each outcome to results at its own index.
func (d *DirectExtractor) ExtractInto(ctx context.Context, links []domain.CandidateLink, indices []int, results []Result) {
	concurrency := d.cfg.DirectConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, i := range indices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = d.extractOne(ctx, links[i])
		}(i)
	}

	wg.Wait()

	d.logger.Debug("direct fetch finished",
		logger.Int("links", len(indices)),
		logger.Int("succeeded", countSucceededAt(results, indices)),
	)
}

func (d *DirectExtractor) extractOne(ctx context.Context, link domain.CandidateLink) (result Result) {
	result = Result{Link: link}

	defer func() {
		if r := recover(); r != nil {
			result.Reason = ReasonPanic
			result.Err = fmt.Errorf("direct fetch panicked: %v", r)
			result.Article = nil
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		result.Reason = ReasonNavigation
		result.Err = fmt.Errorf("build request: %w", err)
		return result
	}
	req.Header.Set("User-Agent", pickUserAgent())

	if d.limiter != nil {
		if waitErr := d.limiter.Wait(ctx, req.URL.Hostname()); waitErr != nil {
			result.Reason = ReasonCancelled
			result.Err = waitErr
			return result
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			result.Reason = ReasonCancelled
			result.Err = ctx.Err()
			return result
		}
		result.Reason = ReasonNavigation
		result.Err = fmt.Errorf("fetch %s: %w", link.URL, err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Reason = ReasonNavigation
		result.Err = fmt.Errorf("fetch %s: status %d", link.URL, resp.StatusCode)
		return result
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDirectBodyBytes))
	if err != nil {
		result.Reason = ReasonNavigation
		result.Err = fmt.Errorf("read %s: %w", link.URL, err)
		return result
	}

	finalURL := link.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	article, err := d.parser.Parse(finalURL, string(body))
	if err != nil {
		result.Reason = ReasonExtraction
		result.Err = err
		return result
	}

	if article.PublishedAt == nil {
		article.PublishedAt = link.PublishedAt
	}

	result.Article = article
	return result
}
