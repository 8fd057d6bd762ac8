package extract

import "github.com/north-cloud/category-crawler/internal/domain"

// FailureReason classifies why a single candidate produced no article.
type FailureReason string

const (
	// ReasonNone marks a successful extraction.
	ReasonNone FailureReason = ""

	// ReasonNoRedirect means the aggregator link never resolved to a
	// publisher URL. Expected and non-fatal.
	ReasonNoRedirect FailureReason = "no_redirect"

	// ReasonNavigation means the tab navigation itself failed.
	ReasonNavigation FailureReason = "navigation_error"

	// ReasonExtraction means the publisher page loaded but content
	// extraction failed.
	ReasonExtraction FailureReason = "extraction_error"

	// ReasonSession means the browser session could not be created.
	ReasonSession FailureReason = "session_error"

	// ReasonPanic means the per-tab work panicked and was contained.
	ReasonPanic FailureReason = "panic"

	// ReasonCancelled means the job was cancelled mid-extraction.
	ReasonCancelled FailureReason = "cancelled"
)

// Result is the per-candidate outcome of batch extraction. Results preserve
// the input order: Result[i] always corresponds to links[i].
type Result struct {
	Link    domain.CandidateLink
	Article *domain.ExtractedArticle
	Reason  FailureReason
	Err     error
}

// OK reports whether the candidate produced an article.
func (r Result) OK() bool {
	return r.Reason == ReasonNone && r.Article != nil
}

// CountSuccesses returns the number of successful results.
func CountSuccesses(results []Result) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}
