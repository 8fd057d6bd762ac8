// Package worker provides a bounded worker pool for executing crawl jobs.
package worker

import (
	"errors"
	"time"
)

const (
	// DefaultPoolSize is the default number of workers in the pool.
	DefaultPoolSize = 4

	// DefaultDrainTimeout is the default timeout for graceful shutdown.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultJobTimeout is the default hard cap on one job execution. It
	// sits above the runner's own soft deadline so the runner can record a
	// clean timeout failure before the pool gives up on the worker.
	DefaultJobTimeout = 30 * time.Minute

	// DefaultHealthCheckInterval is the default interval for worker health
	// checks.
	DefaultHealthCheckInterval = 30 * time.Second

	// MinPoolSize is the minimum allowed pool size.
	MinPoolSize = 1

	// MaxPoolSize is the maximum allowed pool size. Each worker can hold a
	// browser session, so the ceiling is deliberately low.
	MaxPoolSize = 32
)

// Config holds configuration for the worker pool.
type Config struct {
	// PoolSize is the number of concurrent workers.
	PoolSize int

	// DrainTimeout is the maximum time to wait for workers to finish
	// during shutdown.
	DrainTimeout time.Duration

	// JobTimeout is the hard cap on job execution.
	JobTimeout time.Duration

	// HealthCheckInterval is the interval between worker health checks.
	HealthCheckInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PoolSize:            DefaultPoolSize,
		DrainTimeout:        DefaultDrainTimeout,
		JobTimeout:          DefaultJobTimeout,
		HealthCheckInterval: DefaultHealthCheckInterval,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize {
		return errors.New("pool size must be at least 1")
	}
	if c.PoolSize > MaxPoolSize {
		return errors.New("pool size cannot exceed 32")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.JobTimeout <= 0 {
		return errors.New("job timeout must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return errors.New("health check interval must be positive")
	}
	return nil
}
