// Package config provides configuration management for the category crawler.
// Values are loaded from an optional YAML file and overridden by environment
// variables, so deployments can run file-less with env-only configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/north-cloud/category-crawler/internal/breaker"
	"github.com/north-cloud/category-crawler/internal/crawl"
	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/discovery"
	"github.com/north-cloud/category-crawler/internal/extract"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/ratelimit"
	"github.com/north-cloud/category-crawler/internal/worker"
)

// Default values not owned by a component package.
const (
	defaultEnvironment   = "production"
	defaultLogLevel      = "info"
	defaultPollInterval  = 5 * time.Second
	defaultMetricsWindow = 20
)

// AppConfig identifies the running service.
type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

// SchedulerConfig holds dispatcher settings.
type SchedulerConfig struct {
	PollInterval time.Duration
}

// EventsConfig controls completion event publishing.
type EventsConfig struct {
	Enabled bool
}

// MetricsConfig holds metrics collection settings.
type MetricsConfig struct {
	WindowSize int
}

// Config is the full runtime configuration.
type Config struct {
	App       AppConfig
	Log       logger.Config
	Database  database.Config
	Redis     ratelimit.RedisConfig
	Discovery discovery.Config
	Extract   extract.Config
	Crawl     crawl.Config
	Worker    worker.Config
	RateLimit ratelimit.Config
	Breaker   breaker.Config
	Scheduler SchedulerConfig
	Events    EventsConfig
	Metrics   MetricsConfig
}

// Load reads configuration from the given file path (or the default search
// paths when empty) plus the environment.
func Load(path string) (*Config, error) {
	// Missing .env is fine; real deployments use actual env vars.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		_ = v.ReadInConfig()
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := build(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it and so a bare
// environment still yields a runnable configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "category-crawler")
	v.SetDefault("app.environment", defaultEnvironment)
	v.SetDefault("app.debug", false)

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.development", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "crawler")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	discoveryDefaults := discovery.DefaultConfig()
	v.SetDefault("discovery.feed_url", discoveryDefaults.FeedURL)
	v.SetDefault("discovery.language", discoveryDefaults.Language)
	v.SetDefault("discovery.country", discoveryDefaults.Country)
	v.SetDefault("discovery.max_candidates", discoveryDefaults.MaxCandidates)
	v.SetDefault("discovery.request_timeout", discoveryDefaults.RequestTimeout)

	extractDefaults := extract.DefaultConfig()
	v.SetDefault("extract.batch_size", extractDefaults.BatchSize)
	v.SetDefault("extract.headless", extractDefaults.Headless)
	v.SetDefault("extract.nav_timeout", extractDefaults.NavTimeout)
	v.SetDefault("extract.direct_concurrency", extractDefaults.DirectConcurrency)
	v.SetDefault("extract.aggregator_hosts", extractDefaults.AggregatorHosts)

	crawlDefaults := crawl.DefaultConfig()
	v.SetDefault("crawl.max_retries", crawlDefaults.MaxRetries)
	v.SetDefault("crawl.retry_base_delay", crawlDefaults.RetryBaseDelay)
	v.SetDefault("crawl.retry_max_delay", crawlDefaults.RetryMaxDelay)
	v.SetDefault("crawl.job_deadline", crawlDefaults.JobDeadline)
	v.SetDefault("crawl.success_rate_floor", crawlDefaults.SuccessRateFloor)

	v.SetDefault("worker.pool_size", worker.DefaultPoolSize)
	v.SetDefault("worker.drain_timeout", worker.DefaultDrainTimeout)
	v.SetDefault("worker.job_timeout", worker.DefaultJobTimeout)
	v.SetDefault("worker.health_check_interval", worker.DefaultHealthCheckInterval)

	rateDefaults := ratelimit.DefaultConfig()
	v.SetDefault("ratelimit.domain_limit", rateDefaults.DomainLimit)
	v.SetDefault("ratelimit.window", rateDefaults.Window)
	v.SetDefault("ratelimit.aggregator_rate", rateDefaults.AggregatorRate)
	v.SetDefault("ratelimit.aggregator_burst", rateDefaults.AggregatorBurst)

	breakerDefaults := breaker.DefaultConfig()
	v.SetDefault("breaker.failure_threshold", breakerDefaults.FailureThreshold)
	v.SetDefault("breaker.success_threshold", breakerDefaults.SuccessThreshold)
	v.SetDefault("breaker.cooldown_min", breakerDefaults.CooldownMin)
	v.SetDefault("breaker.cooldown_max", breakerDefaults.CooldownMax)

	v.SetDefault("scheduler.poll_interval", defaultPollInterval)
	v.SetDefault("events.enabled", true)
	v.SetDefault("metrics.window_size", defaultMetricsWindow)
}

// build assembles the typed config from viper values.
func build(v *viper.Viper) *Config {
	extractCfg := extract.DefaultConfig()
	extractCfg.BatchSize = v.GetInt("extract.batch_size")
	extractCfg.Headless = v.GetBool("extract.headless")
	extractCfg.NavTimeout = v.GetDuration("extract.nav_timeout")
	extractCfg.DirectConcurrency = v.GetInt("extract.direct_concurrency")
	extractCfg.AggregatorHosts = v.GetStringSlice("extract.aggregator_hosts")

	crawlCfg := crawl.DefaultConfig()
	crawlCfg.MaxRetries = v.GetInt("crawl.max_retries")
	crawlCfg.RetryBaseDelay = v.GetDuration("crawl.retry_base_delay")
	crawlCfg.RetryMaxDelay = v.GetDuration("crawl.retry_max_delay")
	crawlCfg.JobDeadline = v.GetDuration("crawl.job_deadline")
	crawlCfg.SuccessRateFloor = v.GetFloat64("crawl.success_rate_floor")

	return &Config{
		App: AppConfig{
			Name:        v.GetString("app.name"),
			Environment: v.GetString("app.environment"),
			Debug:       v.GetBool("app.debug"),
		},
		Log: logger.Config{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
		Database: database.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: ratelimit.RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Discovery: discovery.Config{
			FeedURL:        v.GetString("discovery.feed_url"),
			Language:       v.GetString("discovery.language"),
			Country:        v.GetString("discovery.country"),
			MaxCandidates:  v.GetInt("discovery.max_candidates"),
			RequestTimeout: v.GetDuration("discovery.request_timeout"),
		},
		Extract: extractCfg,
		Crawl:   crawlCfg,
		Worker: worker.Config{
			PoolSize:            v.GetInt("worker.pool_size"),
			DrainTimeout:        v.GetDuration("worker.drain_timeout"),
			JobTimeout:          v.GetDuration("worker.job_timeout"),
			HealthCheckInterval: v.GetDuration("worker.health_check_interval"),
		},
		RateLimit: ratelimit.Config{
			DomainLimit:     v.GetInt("ratelimit.domain_limit"),
			Window:          v.GetDuration("ratelimit.window"),
			AggregatorRate:  v.GetFloat64("ratelimit.aggregator_rate"),
			AggregatorBurst: v.GetInt("ratelimit.aggregator_burst"),
		},
		Breaker: breaker.Config{
			FailureThreshold: v.GetInt("breaker.failure_threshold"),
			SuccessThreshold: v.GetInt("breaker.success_threshold"),
			CooldownMin:      v.GetDuration("breaker.cooldown_min"),
			CooldownMax:      v.GetDuration("breaker.cooldown_max"),
		},
		Scheduler: SchedulerConfig{
			PollInterval: v.GetDuration("scheduler.poll_interval"),
		},
		Events: EventsConfig{
			Enabled: v.GetBool("events.enabled"),
		},
		Metrics: MetricsConfig{
			WindowSize: v.GetInt("metrics.window_size"),
		},
	}
}

// Validate checks values that would otherwise fail deep inside a component
// at an awkward time.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Redis.Address == "" {
		return errors.New("redis address is required")
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if c.Crawl.MaxRetries < 0 {
		return errors.New("crawl max retries cannot be negative")
	}
	if c.Crawl.SuccessRateFloor < 0 || c.Crawl.SuccessRateFloor > 1 {
		return errors.New("crawl success rate floor must be between 0 and 1")
	}
	if c.RateLimit.DomainLimit <= 0 {
		return errors.New("ratelimit domain limit must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("ratelimit window must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler poll interval must be positive")
	}
	if c.Metrics.WindowSize <= 0 {
		return errors.New("metrics window size must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
