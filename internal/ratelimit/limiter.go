// Package ratelimit enforces per-domain request budgets and paces traffic
// against the news aggregator.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/north-cloud/category-crawler/internal/logger"
)

// CounterStore counts requests inside fixed windows. Implementations must be
// safe for concurrent use.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Config holds rate limiting settings.
type Config struct {
	// DomainLimit is the maximum number of requests per domain per window.
	DomainLimit int

	// Window is the fixed counting window.
	Window time.Duration

	// AggregatorRate is the sustained request rate against the aggregator,
	// in requests per second.
	AggregatorRate float64

	// AggregatorBurst is the aggregator limiter burst size.
	AggregatorBurst int
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		DomainLimit:     30,
		Window:          time.Minute,
		AggregatorRate:  1.5,
		AggregatorBurst: 3,
	}
}

// DomainLimiter enforces a fixed-window request budget per publisher domain.
// Counters live in a shared store so that all workers, across processes,
// draw from the same budget.
type DomainLimiter struct {
	counters CounterStore
	limit    int
	window   time.Duration
	logger   logger.Logger
	now      func() time.Time
}

// NewDomainLimiter creates a per-domain limiter.
func NewDomainLimiter(counters CounterStore, cfg Config, log logger.Logger) *DomainLimiter {
	return &DomainLimiter{
		counters: counters,
		limit:    cfg.DomainLimit,
		window:   cfg.Window,
		logger:   log,
		now:      time.Now,
	}
}

// Allow reports whether a request to host fits the current window's budget.
// A counter store failure fails open: blocking every crawl on a limiter
// outage is worse than briefly exceeding a politeness budget.
func (l *DomainLimiter) Allow(ctx context.Context, host string) bool {
	key := l.windowKey(host)

	count, err := l.counters.Incr(ctx, key, 2*l.window)
	if err != nil {
		l.logger.Warn("rate counter unavailable, allowing request",
			logger.String("host", host),
			logger.Error(err),
		)
		return true
	}

	return count <= int64(l.limit)
}

// Wait blocks until a request to host is allowed or the context is done.
// Denied attempts back off with jitter so that waiters spread out instead of
// stampeding at the window boundary.
func (l *DomainLimiter) Wait(ctx context.Context, host string) error {
	for {
		if l.Allow(ctx, host) {
			return nil
		}

		delay := jitterDuration(2*time.Second, 5*time.Second)
		l.logger.Debug("domain budget exhausted, backing off",
			logger.String("host", host),
			logger.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// windowKey buckets the counter key by window so that expiry never needs to
// be precise: a new window means a new key.
func (l *DomainLimiter) windowKey(host string) string {
	bucket := l.now().Unix() / int64(l.window.Seconds())
	return fmt.Sprintf("ratelimit:domain:%s:%d", host, bucket)
}

// Pacer smooths request flow against the aggregator with a token bucket.
// Unlike the per-domain budget it is process-local: discovery traffic is
// issued from a single dispatcher process.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates an aggregator pacer from the configured rate and burst.
func NewPacer(cfg Config) *Pacer {
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(cfg.AggregatorRate), cfg.AggregatorBurst)}
}

// Wait blocks until the next request slot is available.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// jitterDuration returns a random duration in [lo, hi).
func jitterDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
