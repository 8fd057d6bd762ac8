package database

import (
	"context"
	"time"

	"github.com/north-cloud/category-crawler/internal/domain"
)

// JobStore defines the contract for crawl job persistence.
type JobStore interface {
	CreateOrBump(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, params ListJobsParams) ([]*domain.Job, error)
	Count(ctx context.Context, status string) (int, error)
	Claim(ctx context.Context) (*domain.Job, error)
	SetPriority(ctx context.Context, id string, priority int) error
	Complete(ctx context.Context, id string, found, saved int) error
	Fail(ctx context.Context, id, errorMessage string, found, saved int) error
	Requeue(ctx context.Context, id, lastError string, delay time.Duration) error
	Park(ctx context.Context, id, reason string, delay time.Duration) error
	Release(ctx context.Context, id string) error
	ReleaseAbandoned(ctx context.Context, olderThan time.Duration) (int, error)
	Delete(ctx context.Context, id string) error
}

// ArticleStore defines the contract for deduplicated article persistence.
type ArticleStore interface {
	GetByURLHash(ctx context.Context, urlHash string) (*domain.Article, error)
	Insert(ctx context.Context, article *domain.Article) error
	UpdateContent(ctx context.Context, article *domain.Article) error
	TouchLastSeen(ctx context.Context, urlHash string) error
	EnsureCategoryLink(ctx context.Context, articleID, categoryID string, relevance float64) error
	ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*domain.Article, error)
}

// CategoryStore defines read-only access to category configuration.
type CategoryStore interface {
	GetByID(ctx context.Context, id string) (*domain.Category, error)
	ListEnabled(ctx context.Context) ([]*domain.Category, error)
}

// Interface guards.
var (
	_ JobStore      = (*JobRepository)(nil)
	_ ArticleStore  = (*ArticleRepository)(nil)
	_ CategoryStore = (*CategoryRepository)(nil)
)
