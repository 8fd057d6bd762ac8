package domain

import (
	"time"

	"github.com/lib/pq"
)

// CandidateLink is an aggregator-issued redirect URL awaiting resolution.
// Candidate links are ephemeral: they live only inside a job's working set.
type CandidateLink struct {
	URL            string
	Title          string
	MatchedKeyword string
	PublishedAt    *time.Time
}

// ExtractedArticle is the transient result of content extraction, before the
// deduplication decision turns it into a persisted Article.
type ExtractedArticle struct {
	URL         string
	Title       string
	Text        string
	RawExcerpt  string
	Authors     []string
	PublishedAt *time.Time
	TopImage    string
	Images      []string
	Summary     string
}

// Article is a persisted, deduplicated article.
type Article struct {
	ID          string         `db:"id"           json:"id"`
	URLHash     string         `db:"url_hash"     json:"url_hash"`
	ContentHash *string        `db:"content_hash" json:"content_hash,omitempty"`
	URL         string         `db:"url"          json:"url"`
	Title       string         `db:"title"        json:"title"`
	Text        string         `db:"text"         json:"text"`
	RawExcerpt  string         `db:"raw_excerpt"  json:"raw_excerpt"`
	Authors     pq.StringArray `db:"authors"      json:"authors"`
	PublishedAt *time.Time     `db:"published_at" json:"published_at,omitempty"`
	TopImage    *string        `db:"top_image"    json:"top_image,omitempty"`
	Images      pq.StringArray `db:"images"       json:"images"`
	Summary     string         `db:"summary"      json:"summary"`
	LastSeenAt  time.Time      `db:"last_seen_at" json:"last_seen_at"`
	CrawlJobID  string         `db:"crawl_job_id" json:"crawl_job_id"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"   json:"updated_at"`
}
