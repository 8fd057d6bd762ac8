package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/north-cloud/category-crawler/internal/domain"
)

func snapshotWith(include, exclude []string) domain.KeywordSnapshot {
	return domain.KeywordSnapshot{
		CategoryID: "cat-tech",
		Name:       "Tech",
		Include:    include,
		Exclude:    exclude,
		TakenAt:    time.Now(),
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		include  []string
		expected string
	}{
		{
			name:     "single keyword",
			include:  []string{"AI"},
			expected: "AI",
		},
		{
			name:     "multiple keywords OR combined",
			include:  []string{"AI", "chips"},
			expected: "AI OR chips",
		},
		{
			name:     "multi-word keyword quoted",
			include:  []string{"machine learning", "chips"},
			expected: `"machine learning" OR chips`,
		},
		{
			name:     "blank keywords skipped",
			include:  []string{"AI", "  ", ""},
			expected: "AI",
		},
		{
			name:     "no keywords",
			include:  nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildQuery(snapshotWith(tt.include, nil)))
		})
	}
}

func TestFilterExcluded(t *testing.T) {
	links := []domain.CandidateLink{
		{URL: "https://agg.example/a", Title: "AI breakthrough in chips"},
		{URL: "https://agg.example/b", Title: "AI rumors and speculation"},
		{URL: "https://agg.example/c", Title: "New chip fab opens"},
	}

	filtered := FilterExcluded(links, []string{"rumors"})

	assert.Len(t, filtered, 2)
	assert.Equal(t, "https://agg.example/a", filtered[0].URL)
	assert.Equal(t, "https://agg.example/c", filtered[1].URL)
}

func TestFilterExcludedCaseInsensitive(t *testing.T) {
	links := []domain.CandidateLink{
		{URL: "https://agg.example/a", Title: "RUMORS swirl around launch"},
	}

	assert.Empty(t, FilterExcluded(links, []string{"rumors"}))
}

func TestFilterExcludedNoExcludes(t *testing.T) {
	links := []domain.CandidateLink{
		{URL: "https://agg.example/a", Title: "Anything"},
	}

	assert.Equal(t, links, FilterExcluded(links, nil))
}

func TestMatchedKeyword(t *testing.T) {
	include := []string{"AI", "chips"}

	assert.Equal(t, "chips", MatchedKeyword("new chips announced", include))
	assert.Equal(t, "AI", MatchedKeyword("AI and chips together", include))
	assert.Empty(t, MatchedKeyword("unrelated headline", include))
}
