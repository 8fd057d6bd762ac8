package dedup

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// fakeArticleStore is an in-memory ArticleStore keyed by URL hash.
type fakeArticleStore struct {
	byHash     map[string]*domain.Article
	links      map[string]bool
	touched    int
	updated    int
	insertHook func(article *domain.Article) error
}

func newFakeArticleStore() *fakeArticleStore {
	return &fakeArticleStore{
		byHash: make(map[string]*domain.Article),
		links:  make(map[string]bool),
	}
}

func (f *fakeArticleStore) GetByURLHash(_ context.Context, urlHash string) (*domain.Article, error) {
	article, ok := f.byHash[urlHash]
	if !ok {
		return nil, database.ErrArticleNotFound
	}
	copied := *article
	return &copied, nil
}

func (f *fakeArticleStore) Insert(_ context.Context, article *domain.Article) error {
	if f.insertHook != nil {
		if err := f.insertHook(article); err != nil {
			return err
		}
	}
	if _, exists := f.byHash[article.URLHash]; exists {
		return &pq.Error{Code: "23505"}
	}
	copied := *article
	f.byHash[article.URLHash] = &copied
	return nil
}

func (f *fakeArticleStore) UpdateContent(_ context.Context, article *domain.Article) error {
	existing, ok := f.byHash[article.URLHash]
	if !ok {
		return database.ErrArticleNotFound
	}
	copied := *article
	copied.ID = existing.ID
	f.byHash[article.URLHash] = &copied
	f.updated++
	return nil
}

func (f *fakeArticleStore) TouchLastSeen(_ context.Context, urlHash string) error {
	if _, ok := f.byHash[urlHash]; !ok {
		return database.ErrArticleNotFound
	}
	f.touched++
	return nil
}

func (f *fakeArticleStore) EnsureCategoryLink(_ context.Context, articleID, categoryID string, _ float64) error {
	f.links[articleID+"/"+categoryID] = true
	return nil
}

func (f *fakeArticleStore) ListByJob(_ context.Context, _ string, _, _ int) ([]*domain.Article, error) {
	return nil, nil
}

func extractedFixture() *domain.ExtractedArticle {
	return &domain.ExtractedArticle{
		URL:     "https://example.com/news/story",
		Title:   "Breaking Story",
		Text:    "Full article text describing the event in detail.",
		Authors: []string{"J. Reporter"},
		Summary: "A summary.",
	}
}

func TestReconcilerFirstSighting(t *testing.T) {
	store := newFakeArticleStore()
	reconciler := NewReconciler(store, logger.Nop())

	outcome, err := reconciler.Reconcile(context.Background(), extractedFixture(), "cat-1", "job-1", 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, outcome)

	stored, ok := store.byHash[URLHash("https://example.com/news/story")]
	require.True(t, ok)
	assert.Equal(t, "Breaking Story", stored.Title)
	assert.Equal(t, "job-1", stored.CrawlJobID)
	require.NotNil(t, stored.ContentHash)
	assert.True(t, store.links[stored.ID+"/cat-1"])
}

func TestReconcilerIdempotent(t *testing.T) {
	store := newFakeArticleStore()
	reconciler := NewReconciler(store, logger.Nop())
	ctx := context.Background()

	first, err := reconciler.Reconcile(ctx, extractedFixture(), "cat-1", "job-1", 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, first)

	second, err := reconciler.Reconcile(ctx, extractedFixture(), "cat-1", "job-2", 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second)

	assert.Len(t, store.byHash, 1)
	assert.Equal(t, 1, store.touched)
	assert.Zero(t, store.updated)
}

func TestReconcilerContentChange(t *testing.T) {
	store := newFakeArticleStore()
	reconciler := NewReconciler(store, logger.Nop())
	ctx := context.Background()

	_, err := reconciler.Reconcile(ctx, extractedFixture(), "cat-1", "job-1", 0.9)
	require.NoError(t, err)

	revised := extractedFixture()
	revised.Text = "Substantially revised article text after the correction."

	outcome, err := reconciler.Reconcile(ctx, revised, "cat-1", "job-2", 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	stored := store.byHash[URLHash(revised.URL)]
	require.NotNil(t, stored.ContentHash)
	assert.Equal(t, ContentHash(revised.Text), *stored.ContentHash)
	assert.Equal(t, 1, store.updated)
}

func TestReconcilerSecondCategoryLink(t *testing.T) {
	store := newFakeArticleStore()
	reconciler := NewReconciler(store, logger.Nop())
	ctx := context.Background()

	_, err := reconciler.Reconcile(ctx, extractedFixture(), "cat-1", "job-1", 0.9)
	require.NoError(t, err)

	outcome, err := reconciler.Reconcile(ctx, extractedFixture(), "cat-2", "job-2", 0.7)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	stored := store.byHash[URLHash("https://example.com/news/story")]
	assert.True(t, store.links[stored.ID+"/cat-1"])
	assert.True(t, store.links[stored.ID+"/cat-2"])
}

func TestReconcilerInsertRace(t *testing.T) {
	store := newFakeArticleStore()
	reconciler := NewReconciler(store, logger.Nop())
	ctx := context.Background()

	winner := extractedFixture()
	hash := URLHash(winner.URL)

	// Simulate a concurrent writer landing the row between the lookup miss
	// and the insert.
	store.insertHook = func(article *domain.Article) error {
		if _, exists := store.byHash[hash]; !exists {
			row := &domain.Article{
				ID:      "winner-id",
				URLHash: hash,
				URL:     winner.URL,
				Title:   winner.Title,
				Text:    winner.Text,
			}
			contentHash := ContentHash(winner.Text)
			row.ContentHash = &contentHash
			store.byHash[hash] = row
		}
		return nil
	}

	outcome, err := reconciler.Reconcile(ctx, extractedFixture(), "cat-1", "job-1", 0.9)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.True(t, store.links["winner-id/cat-1"])
	assert.Len(t, store.byHash, 1)
}
