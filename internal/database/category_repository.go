package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/north-cloud/category-crawler/internal/domain"
)

// ErrCategoryNotFound is returned when a category id does not exist.
var ErrCategoryNotFound = errors.New("category not found")

// categorySelectColumns lists columns for SELECT queries on categories.
const categorySelectColumns = `id, name, include_keywords, exclude_keywords, enabled,
	schedule, created_at, updated_at`

// CategoryRepository provides read access to category configuration.
// The crawl core never mutates categories; it only snapshots them.
type CategoryRepository struct {
	db *sqlx.DB
}

// NewCategoryRepository creates a new category repository.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// GetByID retrieves a category by its ID.
func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*domain.Category, error) {
	var category domain.Category
	query := `SELECT ` + categorySelectColumns + ` FROM categories WHERE id = $1`

	err := r.db.GetContext(ctx, &category, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	return &category, nil
}

// ListEnabled returns all enabled categories, used by the schedule trigger.
func (r *CategoryRepository) ListEnabled(ctx context.Context) ([]*domain.Category, error) {
	var categories []*domain.Category
	query := `SELECT ` + categorySelectColumns + ` FROM categories WHERE enabled = TRUE ORDER BY name`

	err := r.db.SelectContext(ctx, &categories, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled categories: %w", err)
	}

	if categories == nil {
		categories = []*domain.Category{}
	}

	return categories, nil
}
