package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/north-cloud/category-crawler/internal/domain"
)

// Sentinel errors returned by the job repository. Callers should check
// with errors.Is().
var (
	// ErrNoJobAvailable is returned when Claim finds no dispatchable job.
	ErrNoJobAvailable = errors.New("no job available")
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotPending is returned by conditional updates that require a
	// pending job (priority changes, non-forced deletes).
	ErrJobNotPending = errors.New("job is not pending")
	// ErrJobNotRunning is returned by terminal transitions on a job that is
	// not currently running.
	ErrJobNotRunning = errors.New("job is not running")
)

const (
	defaultJobListLimit = 50

	// jobSelectColumns lists columns for SELECT queries on crawl_jobs (aliased as j).
	jobSelectColumns = `j.id, j.category_id, j.priority, j.status, j.created_at, j.updated_at,
		j.started_at, j.completed_at, j.eligible_at, j.articles_found, j.articles_saved,
		j.retry_count, j.error_message, j.correlation_id, j.metadata`

	// jobReturningColumns is the unaliased column list for RETURNING clauses.
	jobReturningColumns = `id, category_id, priority, status, created_at, updated_at,
		started_at, completed_at, eligible_at, articles_found, articles_saved,
		retry_count, error_message, correlation_id, metadata`
)

// JobRepository handles database operations for crawl jobs.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateOrBump inserts a new pending job. If a pending job for the same
// category already exists, no new row is created; the existing job's priority
// is raised to the higher of the two instead. Returns the resulting job row.
// Relies on the partial unique index on (category_id) WHERE status = 'pending'.
func (r *JobRepository) CreateOrBump(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO crawl_jobs (id, category_id, priority, status, correlation_id, metadata, eligible_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, NOW())
		ON CONFLICT (category_id) WHERE (status = 'pending') DO UPDATE SET
			priority = GREATEST(crawl_jobs.priority, EXCLUDED.priority),
			updated_at = NOW()
		RETURNING ` + jobReturningColumns + `
	`

	var created domain.Job
	err := r.db.GetContext(ctx, &created, query,
		job.ID, job.CategoryID, job.Priority, job.CorrelationID, job.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return &created, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobSelectColumns + ` FROM crawl_jobs j WHERE j.id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListJobsParams represents filtering options for listing jobs.
type ListJobsParams struct {
	Status     string
	CategoryID string
	Limit      int
	Offset     int
}

// List retrieves jobs with optional filtering, newest first.
func (r *JobRepository) List(ctx context.Context, params ListJobsParams) ([]*domain.Job, error) {
	whereClause, args := buildJobWhere(params)

	limit := params.Limit
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	argIndex := len(args) + 1
	query := fmt.Sprintf(`
		SELECT %s
		FROM crawl_jobs j
		%s
		ORDER BY j.created_at DESC
		LIMIT $%d OFFSET $%d
	`, jobSelectColumns, whereClause, argIndex, argIndex+1)
	args = append(args, limit, offset)

	var jobs []*domain.Job
	err := r.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	if jobs == nil {
		jobs = []*domain.Job{}
	}

	return jobs, nil
}

// buildJobWhere builds the WHERE clause and args for job list queries.
func buildJobWhere(params ListJobsParams) (whereClause string, args []any) {
	var conditions []string
	args = []any{}
	argIndex := 1

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("j.status = $%d", argIndex))
		args = append(args, params.Status)
		argIndex++
	}

	if params.CategoryID != "" {
		conditions = append(conditions, fmt.Sprintf("j.category_id = $%d", argIndex))
		args = append(args, params.CategoryID)
	}

	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	return whereClause, args
}

// Count returns the number of jobs, optionally filtered by status.
func (r *JobRepository) Count(ctx context.Context, status string) (int, error) {
	var count int
	var err error

	if status != "" {
		err = r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM crawl_jobs WHERE status = $1`, status)
	} else {
		err = r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM crawl_jobs`)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return count, nil
}

// Claim selects and locks the highest-priority dispatchable pending job,
// breaking priority ties by oldest creation time. Categories that already
// have a running job are skipped so no category ever has two jobs in flight.
// The selected job transitions to running inside the same transaction, which
// makes the claim exclusive: concurrent claimers cannot dispatch the same job.
// Returns ErrNoJobAvailable if nothing is dispatchable.
func (r *JobRepository) Claim(ctx context.Context) (*domain.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	job, selectErr := claimSelect(ctx, tx)
	if selectErr != nil {
		return nil, selectErr
	}

	startedAt, updateErr := claimMarkRunning(ctx, tx, job.ID)
	if updateErr != nil {
		return nil, updateErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", commitErr)
	}

	job.Status = domain.JobStatusRunning
	job.StartedAt = &startedAt
	return job, nil
}

// claimSelect selects and locks the next dispatchable job within a transaction.
func claimSelect(ctx context.Context, tx *sqlx.Tx) (*domain.Job, error) {
	query := `
		SELECT ` + jobSelectColumns + `
		FROM crawl_jobs j
		WHERE j.status = 'pending'
		  AND j.eligible_at <= NOW()
		  AND NOT EXISTS (
			SELECT 1 FROM crawl_jobs r
			WHERE r.category_id = j.category_id AND r.status = 'running'
		  )
		ORDER BY j.priority DESC, j.created_at ASC
		LIMIT 1
		FOR UPDATE OF j SKIP LOCKED
	`

	var job domain.Job
	err := tx.GetContext(ctx, &job, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobAvailable
		}
		return nil, fmt.Errorf("failed to select claimable job: %w", err)
	}

	return &job, nil
}

// claimMarkRunning transitions a claimed job to running within a transaction.
func claimMarkRunning(ctx context.Context, tx *sqlx.Tx, id string) (time.Time, error) {
	var startedAt time.Time
	query := `
		UPDATE crawl_jobs
		SET status = 'running', started_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING started_at
	`

	if err := tx.GetContext(ctx, &startedAt, query, id); err != nil {
		return time.Time{}, fmt.Errorf("failed to mark claimed job running: %w", err)
	}

	return startedAt, nil
}

// SetPriority changes a job's priority. Only pending jobs may be
// reprioritized; returns ErrJobNotPending otherwise.
func (r *JobRepository) SetPriority(ctx context.Context, id string, priority int) error {
	query := `
		UPDATE crawl_jobs
		SET priority = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, priority, id)
	if err != nil {
		return fmt.Errorf("failed to set job priority: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		// Distinguish a missing job from a non-pending one.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrJobNotPending, id)
	}

	return nil
}

// Complete marks a running job completed with its final counters.
func (r *JobRepository) Complete(ctx context.Context, id string, found, saved int) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'completed',
			completed_at = NOW(),
			articles_found = $1,
			articles_saved = $2,
			error_message = NULL,
			updated_at = NOW()
		WHERE id = $3 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, found, saved, id)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobNotRunning, id))
}

// Fail marks a running job failed with its error detail. Counters reflect
// whatever progress was made before the failure.
func (r *JobRepository) Fail(ctx context.Context, id, errorMessage string, found, saved int) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'failed',
			completed_at = NOW(),
			articles_found = $1,
			articles_saved = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, found, saved, errorMessage, id)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobNotRunning, id))
}

// Requeue returns a running job to pending for a bounded retry: retry_count
// is incremented, priority is lowered one notch, and eligible_at is pushed
// out by the supplied backoff delay.
func (r *JobRepository) Requeue(ctx context.Context, id, lastError string, delay time.Duration) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending',
			retry_count = retry_count + 1,
			priority = GREATEST(priority - 1, $1),
			eligible_at = NOW() + ($2 * INTERVAL '1 second'),
			error_message = $3,
			started_at = NULL,
			updated_at = NOW()
		WHERE id = $4 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query,
		domain.PriorityMin, int(delay.Seconds()), lastError, id)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobNotRunning, id))
}

// Park returns a running job to pending with a delayed eligible_at, without
// touching retry_count or priority. Used when a dependency is known bad, such
// as an open circuit breaker: the wait is not the job's fault, so it must not
// consume the retry budget.
func (r *JobRepository) Park(ctx context.Context, id, reason string, delay time.Duration) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending',
			eligible_at = NOW() + ($1 * INTERVAL '1 second'),
			error_message = $2,
			started_at = NULL,
			updated_at = NOW()
		WHERE id = $3 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, int(delay.Seconds()), reason, id)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobNotRunning, id))
}

// Release returns a claimed job to pending without consuming a retry. Used
// when a claim could not be handed to a worker, such as during shutdown.
func (r *JobRepository) Release(ctx context.Context, id string) error {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending',
			started_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobNotRunning, id))
}

// ReleaseAbandoned returns running jobs whose claim started at least olderThan
// ago to pending, and reports how many were reset. With olderThan zero every
// running job is released; the daemon does that at boot, before any dispatch,
// to recover rows stranded by a crash. The periodic sweep passes a threshold
// above the pool's job timeout so it only touches claims no live worker can
// still hold.
func (r *JobRepository) ReleaseAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE crawl_jobs
		SET status = 'pending',
			started_at = NULL,
			updated_at = NOW()
		WHERE status = 'running'
		  AND started_at <= NOW() - ($1 * INTERVAL '1 second')
	`

	result, err := r.db.ExecContext(ctx, query, int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to release abandoned jobs: %w", err)
	}

	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return 0, affectedErr
	}
	return int(n), nil
}

// Delete removes a job row. Running jobs must be cancelled and transitioned
// to a terminal status before deletion; callers enforce that policy.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM crawl_jobs WHERE id = $1 AND status <> 'running'`

	result, err := r.db.ExecContext(ctx, query, id)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrJobNotFound, id))
}
