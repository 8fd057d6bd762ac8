// Package extract resolves aggregator redirect links through real browser
// sessions and extracts article content from the resulting pages.
package extract

import "time"

// Config holds the batch extraction tuning knobs. Every delay and cap is
// explicit so that tests can collapse the anti-detection pacing to zero.
type Config struct {
	// BatchSize is the maximum number of links handled by one browser
	// session before it is torn down.
	BatchSize int

	// InterTabDelayMin and InterTabDelayMax bound the randomized pause
	// between consecutive tabs within a session.
	InterTabDelayMin time.Duration
	InterTabDelayMax time.Duration

	// InterBatchDelayMin and InterBatchDelayMax bound the randomized pause
	// between sessions.
	InterBatchDelayMin time.Duration
	InterBatchDelayMax time.Duration

	// RedirectWait is the fixed pause after initial load that gives the
	// aggregator's client-side script time to issue its redirect.
	RedirectWait time.Duration

	// QuiescenceTimeout caps the wait for network quiescence when the first
	// redirect check still shows an aggregator URL.
	QuiescenceTimeout time.Duration

	// ExtendedWait is the additional pause after network quiescence before
	// the final redirect check.
	ExtendedWait time.Duration

	// NavTimeout is the hard cap on a single tab navigation.
	NavTimeout time.Duration

	// AggregatorHosts are host suffixes treated as unresolved redirect
	// pages rather than publisher content.
	AggregatorHosts []string

	// Headless controls whether browser sessions run headless.
	Headless bool

	// DirectConcurrency bounds parallel direct fetches for non-aggregator
	// URLs, which skip the session machinery entirely.
	DirectConcurrency int

	// MaxTextChars, MaxRawChars, MaxImages and MaxAuthors are the
	// truncation caps applied to extracted fields.
	MaxTextChars int
	MaxRawChars  int
	MaxImages    int
	MaxAuthors   int
}

// DefaultConfig returns the production extraction settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		InterTabDelayMin:   1 * time.Second,
		InterTabDelayMax:   3 * time.Second,
		InterBatchDelayMin: 5 * time.Second,
		InterBatchDelayMax: 10 * time.Second,
		RedirectWait:       4 * time.Second,
		QuiescenceTimeout:  15 * time.Second,
		ExtendedWait:       5 * time.Second,
		NavTimeout:         30 * time.Second,
		AggregatorHosts:    []string{"news.google.com", "google.com"},
		Headless:           true,
		DirectConcurrency:  4,
		MaxTextChars:       4000,
		MaxRawChars:        1500,
		MaxImages:          3,
		MaxAuthors:         2,
	}
}
