package domain

import (
	"time"

	"github.com/lib/pq"
)

// Category is a named topic with keyword configuration.
type Category struct {
	ID              string         `db:"id"               json:"id"`
	Name            string         `db:"name"             json:"name"`
	IncludeKeywords pq.StringArray `db:"include_keywords" json:"include_keywords"`
	ExcludeKeywords pq.StringArray `db:"exclude_keywords" json:"exclude_keywords"`
	Enabled         bool           `db:"enabled"          json:"enabled"`
	Schedule        *string        `db:"schedule"         json:"schedule,omitempty"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"       json:"updated_at"`
}

// KeywordSnapshot freezes a category's keyword set at dispatch time so a
// running job is immune to mid-run category edits.
type KeywordSnapshot struct {
	CategoryID string   `json:"category_id"`
	Name       string   `json:"name"`
	Include    []string `json:"include"`
	Exclude    []string `json:"exclude"`
	TakenAt    time.Time `json:"taken_at"`
}

// Snapshot captures the category's current keyword configuration.
func (c *Category) Snapshot(now time.Time) KeywordSnapshot {
	include := make([]string, len(c.IncludeKeywords))
	copy(include, c.IncludeKeywords)
	exclude := make([]string, len(c.ExcludeKeywords))
	copy(exclude, c.ExcludeKeywords)

	return KeywordSnapshot{
		CategoryID: c.ID,
		Name:       c.Name,
		Include:    include,
		Exclude:    exclude,
		TakenAt:    now,
	}
}
