package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// Session is one logical browser instance. Tabs run strictly serialized
// inside it, and the whole session is torn down after a single batch.
type Session interface {
	Resolve(ctx context.Context, link domain.CandidateLink) Result
	Close()
}

// SessionFactory opens a new session with the given outbound identity.
type SessionFactory func(ctx context.Context, cfg Config, userAgent string, log logger.Logger) (Session, error)

// blockedResourceTypes are sub-resources failed before navigation. Dropping
// them cuts page load latency roughly threefold without affecting redirect
// resolution.
var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeStylesheet: true,
	network.ResourceTypeMedia:      true,
}

// chromeSession drives a headless browser through chromedp.
type chromeSession struct {
	cfg        Config
	parser     *ContentParser
	logger     logger.Logger
	browserCtx context.Context
	cancels    []context.CancelFunc
}

// NewChromeSession launches a browser with the given user agent. The caller
// must Close the session to release the browser process.
func NewChromeSession(ctx context.Context, cfg Config, userAgent string, log logger.Logger) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(userAgent),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Launching is lazy; run a no-op so a broken Chrome install fails here
	// rather than mid-batch.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launch browser session: %w", err)
	}

	return &chromeSession{
		cfg:        cfg,
		parser:     NewContentParser(cfg),
		logger:     log,
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{cancelBrowser, cancelAlloc},
	}, nil
}

// Close tears the whole browser down.
func (s *chromeSession) Close() {
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
}

// Resolve opens one isolated tab for the candidate, waits out the redirect
// choreography, and extracts content from the reached publisher page.
func (s *chromeSession) Resolve(ctx context.Context, link domain.CandidateLink) (result Result) {
	result = Result{Link: link}

	defer func() {
		if r := recover(); r != nil {
			result.Reason = ReasonPanic
			result.Err = fmt.Errorf("tab panicked: %v", r)
			result.Article = nil
		}
	}()

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancelTimeout()

	// Tie the tab to the job context so cancellation aborts navigation.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	inflight := trackInflight(tabCtx)

	if err := chromedp.Run(tabCtx,
		enableResourceBlocking(),
		chromedp.Navigate(link.URL),
	); err != nil {
		if ctx.Err() != nil {
			result.Reason = ReasonCancelled
			result.Err = ctx.Err()
			return result
		}
		result.Reason = ReasonNavigation
		result.Err = fmt.Errorf("navigate %s: %w", link.URL, err)
		return result
	}

	if err := sleepCtx(tabCtx, s.cfg.RedirectWait); err != nil {
		result.Reason = ReasonCancelled
		result.Err = err
		return result
	}

	finalURL, err := currentURL(tabCtx)
	if err != nil {
		result.Reason = ReasonNavigation
		result.Err = err
		return result
	}

	if s.unresolved(finalURL, link.URL) {
		// Give the slow path one more chance: wait for the network to go
		// quiet, then the extended delay, then re-check.
		waitInflightIdle(tabCtx, inflight, s.cfg.QuiescenceTimeout)
		if err := sleepCtx(tabCtx, s.cfg.ExtendedWait); err != nil {
			result.Reason = ReasonCancelled
			result.Err = err
			return result
		}

		finalURL, err = currentURL(tabCtx)
		if err != nil {
			result.Reason = ReasonNavigation
			result.Err = err
			return result
		}
	}

	if s.unresolved(finalURL, link.URL) {
		result.Reason = ReasonNoRedirect
		result.Err = fmt.Errorf("link %s never left the aggregator", link.URL)
		return result
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html)); err != nil {
		result.Reason = ReasonExtraction
		result.Err = fmt.Errorf("read page html: %w", err)
		return result
	}

	article, err := s.parser.Parse(finalURL, html)
	if err != nil {
		result.Reason = ReasonExtraction
		result.Err = err
		return result
	}

	if article.PublishedAt == nil {
		article.PublishedAt = link.PublishedAt
	}

	s.logger.Debug("tab resolved",
		logger.String("final_url", finalURL),
		logger.Int("text_chars", len(article.Text)),
	)

	result.Article = article
	return result
}

// unresolved reports whether finalURL is still an aggregator page or the
// untouched original link.
func (s *chromeSession) unresolved(finalURL, originalURL string) bool {
	if finalURL == "" || finalURL == originalURL {
		return true
	}
	u, err := url.Parse(finalURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, aggregator := range s.cfg.AggregatorHosts {
		if host == aggregator || strings.HasSuffix(host, "."+aggregator) {
			return true
		}
	}
	return false
}

// enableResourceBlocking intercepts requests and fails the non-essential
// resource types before they hit the network.
func enableResourceBlocking() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			if req, ok := ev.(*fetch.EventRequestPaused); ok {
				go func() {
					execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
					if blockedResourceTypes[req.ResourceType] {
						_ = fetch.FailRequest(req.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
						return
					}
					_ = fetch.ContinueRequest(req.RequestID).Do(execCtx)
				}()
			}
		})
		return fetch.Enable().Do(ctx)
	})
}

// trackInflight counts outstanding network requests on the tab.
func trackInflight(ctx context.Context) *atomic.Int64 {
	var inflight atomic.Int64
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			inflight.Add(1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			inflight.Add(-1)
		}
	})
	return &inflight
}

// waitInflightIdle polls until no requests are outstanding or the timeout
// elapses. Quiescence is best-effort; the extended wait that follows covers
// late stragglers.
func waitInflightIdle(ctx context.Context, inflight *atomic.Int64, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if inflight.Load() <= 0 {
			return
		}
		if err := sleepCtx(ctx, 250*time.Millisecond); err != nil {
			return
		}
	}
}

// currentURL reads the tab's location after redirects.
func currentURL(ctx context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read tab location: %w", err)
	}
	return loc, nil
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
