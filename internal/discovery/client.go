package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/ratelimit"
)

// Error wraps a failed discovery call so callers can distinguish it from
// extraction or persistence failures.
type Error struct {
	Query string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery failed for query %q: %v", e.Query, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Searcher finds candidate links matching a keyword snapshot.
type Searcher interface {
	Search(ctx context.Context, snapshot domain.KeywordSnapshot) ([]domain.CandidateLink, error)
}

// Config holds discovery client settings.
type Config struct {
	// FeedURL is the aggregator search feed endpoint. The keyword query is
	// appended as the q parameter.
	FeedURL string

	// Language and Country localize the search feed.
	Language string
	Country  string

	// MaxCandidates caps the candidate set per search to bound worst-case
	// batch extraction time.
	MaxCandidates int

	// RequestTimeout bounds a single feed fetch.
	RequestTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FeedURL:        "https://news.google.com/rss/search",
		Language:       "en-US",
		Country:        "US",
		MaxCandidates:  100,
		RequestTimeout: 30 * time.Second,
	}
}

// Client queries the aggregator's RSS search feed for candidate links.
type Client struct {
	config Config
	parser *gofeed.Parser
	pacer  *ratelimit.Pacer
	logger logger.Logger
}

// NewClient creates a discovery client. The pacer spaces out aggregator
// requests; pass nil to disable pacing.
func NewClient(config Config, pacer *ratelimit.Pacer, log logger.Logger) *Client {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: config.RequestTimeout}

	return &Client{
		config: config,
		parser: parser,
		pacer:  pacer,
		logger: log,
	}
}

// Search builds the OR query from the snapshot, fetches the search feed, and
// returns the exclude-filtered, capped candidate set.
func (c *Client) Search(ctx context.Context, snapshot domain.KeywordSnapshot) ([]domain.CandidateLink, error) {
	query := BuildQuery(snapshot)
	if query == "" {
		return nil, &Error{Query: query, Err: fmt.Errorf("category %s has no include keywords", snapshot.CategoryID)}
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, &Error{Query: query, Err: err}
		}
	}

	feed, err := c.parser.ParseURLWithContext(c.feedURL(query), ctx)
	if err != nil {
		return nil, &Error{Query: query, Err: err}
	}

	links := make([]domain.CandidateLink, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		link := domain.CandidateLink{
			URL:            item.Link,
			Title:          item.Title,
			MatchedKeyword: MatchedKeyword(item.Title, snapshot.Include),
			PublishedAt:    item.PublishedParsed,
		}
		links = append(links, link)
	}

	links = FilterExcluded(links, snapshot.Exclude)

	if c.config.MaxCandidates > 0 && len(links) > c.config.MaxCandidates {
		links = links[:c.config.MaxCandidates]
	}

	c.logger.Info("discovery search completed",
		logger.String("category_id", snapshot.CategoryID),
		logger.String("query", query),
		logger.Int("feed_items", len(feed.Items)),
		logger.Int("candidates", len(links)),
	)

	return links, nil
}

func (c *Client) feedURL(query string) string {
	params := url.Values{}
	params.Set("q", query)
	if c.config.Language != "" {
		params.Set("hl", c.config.Language)
	}
	if c.config.Country != "" {
		params.Set("gl", c.config.Country)
	}
	return c.config.FeedURL + "?" + params.Encode()
}

var _ Searcher = (*Client)(nil)
