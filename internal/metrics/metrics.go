// Package metrics provides crawl counters and the rolling batch success rate
// used as a throttling signal.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	JobsCompleted     int64     `json:"jobs_completed"`
	JobsFailed        int64     `json:"jobs_failed"`
	JobsRequeued      int64     `json:"jobs_requeued"`
	CandidatesFound   int64     `json:"candidates_found"`
	ArticlesExtracted int64     `json:"articles_extracted"`
	ArticlesInserted  int64     `json:"articles_inserted"`
	ArticlesUpdated   int64     `json:"articles_updated"`
	ArticlesUnchanged int64     `json:"articles_unchanged"`
	BatchSuccessRate  float64   `json:"batch_success_rate"`
	BatchWindowSize   int       `json:"batch_window_size"`
	LastUpdated       time.Time `json:"last_updated"`
}

// batchSample records one extraction batch's outcome.
type batchSample struct {
	attempted int
	succeeded int
}

// Collector accumulates counters under a single mutex. The batch window is a
// bounded ring: once full, each new sample evicts the oldest.
type Collector struct {
	mu sync.Mutex

	jobsCompleted     int64
	jobsFailed        int64
	jobsRequeued      int64
	candidatesFound   int64
	articlesExtracted int64
	articlesInserted  int64
	articlesUpdated   int64
	articlesUnchanged int64

	window     []batchSample
	windowSize int
	lastUpdate time.Time
}

// NewCollector creates a collector with the given batch window size.
func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &Collector{windowSize: windowSize}
}

// JobCompleted records a terminal Completed job.
func (c *Collector) JobCompleted(found int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsCompleted++
	c.candidatesFound += int64(found)
	c.touch()
}

// JobFailed records a terminal Failed job.
func (c *Collector) JobFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsFailed++
	c.touch()
}

// JobRequeued records a retry re-enqueue.
func (c *Collector) JobRequeued() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobsRequeued++
	c.touch()
}

// Reconciled records deduplication outcomes for one job.
func (c *Collector) Reconciled(inserted, updated, unchanged int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.articlesInserted += int64(inserted)
	c.articlesUpdated += int64(updated)
	c.articlesUnchanged += int64(unchanged)
	c.touch()
}

// BatchObserved records an extraction batch outcome and returns the success
// rate over the current window.
func (c *Collector) BatchObserved(attempted, succeeded int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.articlesExtracted += int64(succeeded)

	if attempted > 0 {
		c.window = append(c.window, batchSample{attempted: attempted, succeeded: succeeded})
		if len(c.window) > c.windowSize {
			c.window = c.window[1:]
		}
	}
	c.touch()

	return c.successRateLocked()
}

// SuccessRate returns the rolling success rate over the batch window, or 1.0
// while the window is empty.
func (c *Collector) SuccessRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.successRateLocked()
}

// WindowFull reports whether enough batches have been observed for the
// success rate to be meaningful.
func (c *Collector) WindowFull() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.window) >= c.windowSize
}

// GetSnapshot copies all counters.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		JobsCompleted:     c.jobsCompleted,
		JobsFailed:        c.jobsFailed,
		JobsRequeued:      c.jobsRequeued,
		CandidatesFound:   c.candidatesFound,
		ArticlesExtracted: c.articlesExtracted,
		ArticlesInserted:  c.articlesInserted,
		ArticlesUpdated:   c.articlesUpdated,
		ArticlesUnchanged: c.articlesUnchanged,
		BatchSuccessRate:  c.successRateLocked(),
		BatchWindowSize:   len(c.window),
		LastUpdated:       c.lastUpdate,
	}
}

func (c *Collector) successRateLocked() float64 {
	attempted, succeeded := 0, 0
	for _, sample := range c.window {
		attempted += sample.attempted
		succeeded += sample.succeeded
	}
	if attempted == 0 {
		return 1.0
	}
	return float64(succeeded) / float64(attempted)
}

func (c *Collector) touch() {
	c.lastUpdate = time.Now()
}
