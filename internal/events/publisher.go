// Package events publishes job lifecycle events to a Redis stream for
// downstream article-listing and export consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/north-cloud/category-crawler/internal/logger"
)

const (
	// StreamName is the Redis stream carrying job lifecycle events.
	StreamName = "crawler:job-events"

	// maxStreamLength bounds the stream; older events are trimmed.
	maxStreamLength = 10000
)

// Event types.
const (
	TypeJobCompleted = "job.completed"
	TypeJobFailed    = "job.failed"
	TypeJobRequeued  = "job.requeued"
)

// Event is one job lifecycle record, keyed by job id.
type Event struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	JobID         string    `json:"job_id"`
	CategoryID    string    `json:"category_id"`
	ArticlesFound int       `json:"articles_found"`
	ArticlesSaved int       `json:"articles_saved"`
	Error         string    `json:"error,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StreamAppender is the slice of the Redis client the publisher needs.
type StreamAppender interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends job events to the stream. A nil publisher is a valid
// no-op, so event publishing stays optional.
type Publisher struct {
	client StreamAppender
	logger logger.Logger
}

// NewPublisher creates an event publisher. Returns nil when client is nil.
func NewPublisher(client StreamAppender, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	return &Publisher{client: client, logger: log}
}

// Publish appends the event to the stream. Failures are logged, not
// returned: a lost event must never fail the job that emitted it.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal job event",
			logger.String("job_id", event.JobID),
			logger.Error(err),
		)
		return
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]interface{}{"event": string(payload)},
	}).Err()
	if err != nil {
		p.logger.Error("failed to publish job event",
			logger.String("job_id", event.JobID),
			logger.String("type", event.Type),
			logger.Error(err),
		)
		return
	}

	p.logger.Debug("job event published",
		logger.String("job_id", event.JobID),
		logger.String("type", event.Type),
	)
}

// Completed builds a completion event for a finished job.
func Completed(jobID, categoryID, correlationID string, found, saved int) Event {
	return Event{
		ID:            fmt.Sprintf("%s-%d", jobID, time.Now().UnixNano()),
		Type:          TypeJobCompleted,
		JobID:         jobID,
		CategoryID:    categoryID,
		ArticlesFound: found,
		ArticlesSaved: saved,
		CorrelationID: correlationID,
	}
}

// Requeued builds an event for a job pushed back to pending, whether by a
// retry with backoff or a breaker-cooldown park.
func Requeued(jobID, categoryID, correlationID, errorMessage string) Event {
	return Event{
		ID:            fmt.Sprintf("%s-%d", jobID, time.Now().UnixNano()),
		Type:          TypeJobRequeued,
		JobID:         jobID,
		CategoryID:    categoryID,
		Error:         errorMessage,
		CorrelationID: correlationID,
	}
}

// Failed builds a terminal failure event.
func Failed(jobID, categoryID, correlationID, errorMessage string) Event {
	return Event{
		ID:            fmt.Sprintf("%s-%d", jobID, time.Now().UnixNano()),
		Type:          TypeJobFailed,
		JobID:         jobID,
		CategoryID:    categoryID,
		Error:         errorMessage,
		CorrelationID: correlationID,
	}
}
