package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// Outcome is the deduplication decision for one extracted article.
type Outcome int

const (
	// OutcomeInserted means the article was sighted for the first time.
	OutcomeInserted Outcome = iota

	// OutcomeUpdated means the URL was known but its content changed.
	OutcomeUpdated

	// OutcomeUnchanged means the URL and content were both already known.
	OutcomeUnchanged
)

// String returns the string representation of an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Reconciler decides insert-vs-update-vs-skip for extracted articles against
// the article store, keyed by URL fingerprint.
type Reconciler struct {
	articles database.ArticleStore
	logger   logger.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(articles database.ArticleStore, log logger.Logger) *Reconciler {
	return &Reconciler{articles: articles, logger: log}
}

// Reconcile looks up the extracted article by URL fingerprint and applies the
// deduplication decision. The category association is created when missing
// and never duplicated; repeat sightings with identical content advance only
// the last-seen timestamp.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	extracted *domain.ExtractedArticle,
	categoryID, jobID string,
	relevance float64,
) (Outcome, error) {
	urlHash := URLHash(extracted.URL)
	contentHash := ContentHash(extracted.Text)

	existing, err := r.articles.GetByURLHash(ctx, urlHash)
	if err != nil {
		if !errors.Is(err, database.ErrArticleNotFound) {
			return OutcomeUnchanged, fmt.Errorf("lookup by url hash: %w", err)
		}
		return r.insert(ctx, extracted, urlHash, contentHash, categoryID, jobID, relevance)
	}

	return r.applyToExisting(ctx, existing, extracted, contentHash, categoryID, relevance, jobID)
}

// insert persists a first sighting. A concurrent writer can win the race on
// the unique url_hash constraint; when that happens the insert degrades to a
// reconcile against the row the other writer created.
func (r *Reconciler) insert(
	ctx context.Context,
	extracted *domain.ExtractedArticle,
	urlHash, contentHash, categoryID, jobID string,
	relevance float64,
) (Outcome, error) {
	article := buildArticle(extracted, urlHash, contentHash, jobID)

	if insertErr := r.articles.Insert(ctx, article); insertErr != nil {
		if database.IsUniqueViolation(insertErr) {
			winner, getErr := r.articles.GetByURLHash(ctx, urlHash)
			if getErr != nil {
				return OutcomeUnchanged, fmt.Errorf("reload after insert race: %w", getErr)
			}
			r.logger.Debug("concurrent insert detected, reconciling against winner",
				logger.String("url_hash", urlHash),
			)
			return r.applyToExisting(ctx, winner, extracted, contentHash, categoryID, relevance, jobID)
		}
		return OutcomeUnchanged, fmt.Errorf("insert article: %w", insertErr)
	}

	if linkErr := r.articles.EnsureCategoryLink(ctx, article.ID, categoryID, relevance); linkErr != nil {
		return OutcomeUnchanged, fmt.Errorf("link inserted article: %w", linkErr)
	}

	return OutcomeInserted, nil
}

// applyToExisting handles a repeat sighting of a known URL.
func (r *Reconciler) applyToExisting(
	ctx context.Context,
	existing *domain.Article,
	extracted *domain.ExtractedArticle,
	contentHash, categoryID string,
	relevance float64,
	jobID string,
) (Outcome, error) {
	if linkErr := r.articles.EnsureCategoryLink(ctx, existing.ID, categoryID, relevance); linkErr != nil {
		return OutcomeUnchanged, fmt.Errorf("ensure category link: %w", linkErr)
	}

	if contentEqual(existing.ContentHash, contentHash) {
		if touchErr := r.articles.TouchLastSeen(ctx, existing.URLHash); touchErr != nil {
			return OutcomeUnchanged, fmt.Errorf("touch last seen: %w", touchErr)
		}
		return OutcomeUnchanged, nil
	}

	updated := buildArticle(extracted, existing.URLHash, contentHash, jobID)
	updated.ID = existing.ID
	if updateErr := r.articles.UpdateContent(ctx, updated); updateErr != nil {
		return OutcomeUnchanged, fmt.Errorf("update article content: %w", updateErr)
	}

	return OutcomeUpdated, nil
}

// buildArticle maps an extraction result onto a persistable article.
func buildArticle(extracted *domain.ExtractedArticle, urlHash, contentHash, jobID string) *domain.Article {
	article := &domain.Article{
		ID:          uuid.New().String(),
		URLHash:     urlHash,
		URL:         extracted.URL,
		Title:       extracted.Title,
		Text:        extracted.Text,
		RawExcerpt:  extracted.RawExcerpt,
		Authors:     extracted.Authors,
		PublishedAt: extracted.PublishedAt,
		Images:      extracted.Images,
		Summary:     extracted.Summary,
		CrawlJobID:  jobID,
	}

	if contentHash != "" {
		article.ContentHash = &contentHash
	}
	if extracted.TopImage != "" {
		topImage := extracted.TopImage
		article.TopImage = &topImage
	}

	return article
}

// contentEqual compares a stored content hash pointer against a computed hash.
// A nil stored hash matches only empty content.
func contentEqual(stored *string, computed string) bool {
	if stored == nil {
		return computed == ""
	}
	return *stored == computed
}
