// Package scheduler owns the job queue surface: enqueue, prioritize, claim
// and dispatch of crawl jobs, plus the cron trigger that feeds the queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// ValidationError marks a rejected request. Validation failures are never
// retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// JobCanceller cancels in-flight job execution. Implemented by the
// dispatcher.
type JobCanceller interface {
	Cancel(jobID string) bool
}

// JobStatus is the cheap polling view of one job.
type JobStatus struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	ArticlesFound int        `json:"articles_found"`
	ArticlesSaved int        `json:"articles_saved"`
	RetryCount    int        `json:"retry_count"`
	Error         *string    `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// DeleteImpact summarizes what a delete actually did.
type DeleteImpact struct {
	JobID      string `json:"job_id"`
	WasRunning bool   `json:"was_running"`
	Cancelled  bool   `json:"cancelled"`
	Deleted    bool   `json:"deleted"`
}

// Service exposes job operations to triggers, the CLI and other callers.
type Service struct {
	jobs       database.JobStore
	categories database.CategoryStore
	canceller  JobCanceller
	logger     logger.Logger
}

// NewService creates the job service. canceller may be nil when no
// dispatcher is running, in which case force-deletes of running jobs fail.
func NewService(jobs database.JobStore, categories database.CategoryStore, canceller JobCanceller, log logger.Logger) *Service {
	return &Service{
		jobs:       jobs,
		categories: categories,
		canceller:  canceller,
		logger:     log,
	}
}

// CreateJob enqueues a pending job for the category. A duplicate pending job
// for the same category is not created; the existing job's priority is
// bumped to the higher of the two.
func (s *Service) CreateJob(ctx context.Context, categoryID string, priority int, metadata map[string]any) (*domain.Job, error) {
	if categoryID == "" {
		return nil, &ValidationError{Field: "category_id", Message: "must not be empty"}
	}
	if !domain.ValidPriority(priority) {
		return nil, &ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("must be between %d and %d", domain.PriorityMin, domain.PriorityMax),
		}
	}

	category, err := s.categories.GetByID(ctx, categoryID)
	if err != nil {
		if errors.Is(err, database.ErrCategoryNotFound) {
			return nil, &ValidationError{Field: "category_id", Message: "unknown category"}
		}
		return nil, fmt.Errorf("load category: %w", err)
	}
	if !category.Enabled {
		return nil, &ValidationError{Field: "category_id", Message: "category is disabled"}
	}

	job := &domain.Job{
		ID:            uuid.New().String(),
		CategoryID:    categoryID,
		Priority:      priority,
		Status:        domain.JobStatusPending,
		CorrelationID: uuid.New().String(),
		Metadata:      metadata,
	}

	created, err := s.jobs.CreateOrBump(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job enqueued",
		logger.String("job_id", created.ID),
		logger.String("category_id", categoryID),
		logger.Int("priority", created.Priority),
	)

	return created, nil
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs returns jobs matching the filter.
func (s *Service) ListJobs(ctx context.Context, params database.ListJobsParams) ([]*domain.Job, error) {
	return s.jobs.List(ctx, params)
}

// GetStatus returns the polling view of one job.
func (s *Service) GetStatus(ctx context.Context, id string) (*JobStatus, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &JobStatus{
		JobID:         job.ID,
		Status:        job.Status,
		ArticlesFound: job.ArticlesFound,
		ArticlesSaved: job.ArticlesSaved,
		RetryCount:    job.RetryCount,
		Error:         job.ErrorMessage,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}, nil
}

// SetPriority raises or lowers a pending job's priority. Jobs that have
// started are immutable.
func (s *Service) SetPriority(ctx context.Context, id string, priority int) (*domain.Job, error) {
	if !domain.ValidPriority(priority) {
		return nil, &ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("must be between %d and %d", domain.PriorityMin, domain.PriorityMax),
		}
	}

	if err := s.jobs.SetPriority(ctx, id, priority); err != nil {
		return nil, err
	}

	return s.jobs.GetByID(ctx, id)
}

// DeleteJob removes a job. Deleting a running job requires force; the
// in-flight work is cancelled and the job reaches a terminal failed state
// before removal is allowed on a later call, so the record of the
// cancellation is preserved.
func (s *Service) DeleteJob(ctx context.Context, id string, force bool) (*DeleteImpact, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	impact := &DeleteImpact{JobID: id, WasRunning: job.IsRunning()}

	if job.IsRunning() {
		if !force {
			return nil, fmt.Errorf("job %s is running, force required: %w", id, database.ErrJobNotPending)
		}
		if s.canceller == nil || !s.canceller.Cancel(id) {
			return nil, fmt.Errorf("job %s is running but could not be cancelled", id)
		}
		impact.Cancelled = true
		s.logger.Warn("running job force-cancelled", logger.String("job_id", id))
		return impact, nil
	}

	if err := s.jobs.Delete(ctx, id); err != nil {
		return nil, err
	}
	impact.Deleted = true

	s.logger.Info("job deleted", logger.String("job_id", id))
	return impact, nil
}
