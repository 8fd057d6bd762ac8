// Package domain provides domain models used across the application.
package domain

import (
	"errors"
	"time"
)

// ErrShutdown is the cancellation cause attached to job contexts when the
// daemon is draining. Executors release the job back to pending instead of
// recording a terminal failure.
var ErrShutdown = errors.New("shutting down")

// Job status values.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Priority bounds for crawl jobs. Higher runs sooner.
const (
	PriorityMin     = 1
	PriorityMax     = 10
	PriorityDefault = 5
)

// Job represents one discrete crawl request for a category.
type Job struct {
	ID            string     `db:"id"             json:"id"`
	CategoryID    string     `db:"category_id"    json:"category_id"`
	Priority      int        `db:"priority"       json:"priority"`
	Status        string     `db:"status"         json:"status"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
	StartedAt     *time.Time `db:"started_at"     json:"started_at,omitempty"`
	CompletedAt   *time.Time `db:"completed_at"   json:"completed_at,omitempty"`
	EligibleAt    time.Time  `db:"eligible_at"    json:"eligible_at"`
	ArticlesFound int        `db:"articles_found" json:"articles_found"`
	ArticlesSaved int        `db:"articles_saved" json:"articles_saved"`
	RetryCount    int        `db:"retry_count"    json:"retry_count"`
	ErrorMessage  *string    `db:"error_message"  json:"error_message,omitempty"`
	CorrelationID string     `db:"correlation_id" json:"correlation_id"`
	Metadata      JSONBMap   `db:"metadata"       json:"metadata,omitempty"`
}

// IsTerminal returns true if the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// IsPending returns true if the job is waiting for dispatch.
func (j *Job) IsPending() bool {
	return j.Status == JobStatusPending
}

// IsRunning returns true if the job has been claimed by a worker.
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// ValidPriority reports whether p falls within the accepted priority range.
func ValidPriority(p int) bool {
	return p >= PriorityMin && p <= PriorityMax
}

// ValidJobStatus reports whether s is a known job status.
func ValidJobStatus(s string) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
