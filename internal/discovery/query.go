// Package discovery finds candidate article links for a category by querying
// a news aggregator's search feed.
package discovery

import (
	"fmt"
	"strings"

	"github.com/north-cloud/category-crawler/internal/domain"
)

// BuildQuery combines a snapshot's include keywords into a single OR query.
// Multi-word keywords are quoted so the aggregator treats them as phrases.
func BuildQuery(snapshot domain.KeywordSnapshot) string {
	terms := make([]string, 0, len(snapshot.Include))
	for _, keyword := range snapshot.Include {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.ContainsRune(keyword, ' ') {
			keyword = fmt.Sprintf("%q", keyword)
		}
		terms = append(terms, keyword)
	}
	return strings.Join(terms, " OR ")
}

// FilterExcluded drops candidates whose title contains any exclude keyword.
// Exclusion runs locally: the aggregator is never trusted to honor negative
// terms.
func FilterExcluded(links []domain.CandidateLink, exclude []string) []domain.CandidateLink {
	if len(exclude) == 0 {
		return links
	}

	kept := make([]domain.CandidateLink, 0, len(links))
	for _, link := range links {
		if excludedTitle(link.Title, exclude) {
			continue
		}
		kept = append(kept, link)
	}
	return kept
}

func excludedTitle(title string, exclude []string) bool {
	lower := strings.ToLower(title)
	for _, keyword := range exclude {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// MatchedKeyword returns the first include keyword found in the title, or
// the empty string when none matches. It labels candidates for relevance
// scoring downstream.
func MatchedKeyword(title string, include []string) string {
	lower := strings.ToLower(title)
	for _, keyword := range include {
		trimmed := strings.ToLower(strings.TrimSpace(keyword))
		if trimmed != "" && strings.Contains(lower, trimmed) {
			return keyword
		}
	}
	return ""
}
