package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/north-cloud/category-crawler/internal/domain"
)

// ErrArticleNotFound is returned when no article matches the lookup key.
var ErrArticleNotFound = errors.New("article not found")

// articleSelectColumns lists columns for SELECT queries on articles.
const articleSelectColumns = `id, url_hash, content_hash, url, title, text, raw_excerpt,
	authors, published_at, top_image, images, summary, last_seen_at, crawl_job_id,
	created_at, updated_at`

// ArticleRepository handles database operations for deduplicated articles.
type ArticleRepository struct {
	db *sqlx.DB
}

// NewArticleRepository creates a new article repository.
func NewArticleRepository(db *sqlx.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// GetByURLHash retrieves an article by its URL fingerprint.
// Returns ErrArticleNotFound if no article has been sighted at that URL.
func (r *ArticleRepository) GetByURLHash(ctx context.Context, urlHash string) (*domain.Article, error) {
	var article domain.Article
	query := `SELECT ` + articleSelectColumns + ` FROM articles WHERE url_hash = $1`

	err := r.db.GetContext(ctx, &article, query, urlHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, urlHash)
		}
		return nil, fmt.Errorf("failed to get article by url hash: %w", err)
	}

	return &article, nil
}

// Insert persists a first-sighting article. The unique url_hash constraint is
// the concurrency guard: a second writer racing on the same URL gets a
// uniqueness violation rather than a duplicate row.
func (r *ArticleRepository) Insert(ctx context.Context, article *domain.Article) error {
	query := `
		INSERT INTO articles (id, url_hash, content_hash, url, title, text, raw_excerpt,
			authors, published_at, top_image, images, summary, last_seen_at, crawl_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), $13)
		RETURNING created_at, updated_at, last_seen_at
	`

	err := r.db.QueryRowContext(
		ctx, query,
		article.ID, article.URLHash, article.ContentHash, article.URL,
		article.Title, article.Text, article.RawExcerpt, article.Authors,
		article.PublishedAt, article.TopImage, article.Images, article.Summary,
		article.CrawlJobID,
	).Scan(&article.CreatedAt, &article.UpdatedAt, &article.LastSeenAt)

	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}

	return nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, which signals a concurrent insert of the same url_hash.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// UpdateContent replaces an article's content after a change was detected,
// advancing content_hash, updated_at, and last_seen_at together.
func (r *ArticleRepository) UpdateContent(ctx context.Context, article *domain.Article) error {
	query := `
		UPDATE articles
		SET content_hash = $1, title = $2, text = $3, raw_excerpt = $4, authors = $5,
			published_at = $6, top_image = $7, images = $8, summary = $9,
			crawl_job_id = $10, last_seen_at = NOW(), updated_at = NOW()
		WHERE url_hash = $11
	`

	result, err := r.db.ExecContext(
		ctx, query,
		article.ContentHash, article.Title, article.Text, article.RawExcerpt,
		article.Authors, article.PublishedAt, article.TopImage, article.Images,
		article.Summary, article.CrawlJobID, article.URLHash,
	)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrArticleNotFound, article.URLHash))
}

// TouchLastSeen advances only the last-seen timestamp for an unchanged sighting.
func (r *ArticleRepository) TouchLastSeen(ctx context.Context, urlHash string) error {
	query := `UPDATE articles SET last_seen_at = NOW() WHERE url_hash = $1`

	result, err := r.db.ExecContext(ctx, query, urlHash)
	return execRequireRows(result, err, fmt.Errorf("%w: %s", ErrArticleNotFound, urlHash))
}

// EnsureCategoryLink creates the article-category association if it does not
// already exist. Repeat sightings never duplicate an association.
func (r *ArticleRepository) EnsureCategoryLink(ctx context.Context, articleID, categoryID string, relevance float64) error {
	query := `
		INSERT INTO article_categories (article_id, category_id, relevance)
		VALUES ($1, $2, $3)
		ON CONFLICT (article_id, category_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, articleID, categoryID, relevance); err != nil {
		return fmt.Errorf("failed to link article to category: %w", err)
	}

	return nil
}

// ListByJob returns articles persisted or refreshed by a given crawl job,
// the record consumed by external listing/export features.
func (r *ArticleRepository) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*domain.Article, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var articles []*domain.Article
	query := `
		SELECT ` + articleSelectColumns + `
		FROM articles
		WHERE crawl_job_id = $1
		ORDER BY last_seen_at DESC
		LIMIT $2 OFFSET $3
	`

	err := r.db.SelectContext(ctx, &articles, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles by job: %w", err)
	}

	if articles == nil {
		articles = []*domain.Article{}
	}

	return articles, nil
}
