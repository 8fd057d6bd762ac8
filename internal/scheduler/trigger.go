package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

// reloadInterval is how often category schedules are re-synced from the
// store, so schedule edits take effect without a restart.
const reloadInterval = 5 * time.Minute

// CronTrigger enqueues jobs for categories on their cron schedules.
type CronTrigger struct {
	service    *Service
	categories database.CategoryStore
	logger     logger.Logger

	cron       *cron.Cron
	cronParser cron.Parser

	scheduledMu sync.Mutex
	scheduled   map[string]cron.EntryID

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCronTrigger creates a trigger using the standard 5-field cron format.
func NewCronTrigger(service *Service, categories database.CategoryStore, log logger.Logger) *CronTrigger {
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	return &CronTrigger{
		service:    service,
		categories: categories,
		logger:     log,
		cron:       c,
		cronParser: cronParser,
		scheduled:  make(map[string]cron.EntryID),
		stopCh:     make(chan struct{}),
	}
}

// Start loads schedules, starts the cron loop, and keeps schedules synced.
func (t *CronTrigger) Start(ctx context.Context) error {
	if err := t.Reload(ctx); err != nil {
		return fmt.Errorf("load category schedules: %w", err)
	}

	t.cron.Start()

	t.wg.Add(1)
	go t.reloadLoop(ctx)

	t.logger.Info("cron trigger started", logger.Int("schedules", t.scheduleCount()))
	return nil
}

// Stop halts the cron loop and the reload loop.
func (t *CronTrigger) Stop() {
	close(t.stopCh)
	t.wg.Wait()

	stopCtx := t.cron.Stop()
	<-stopCtx.Done()
}

// Reload re-syncs cron entries against the enabled categories.
func (t *CronTrigger) Reload(ctx context.Context) error {
	categories, err := t.categories.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled categories: %w", err)
	}

	t.scheduledMu.Lock()
	defer t.scheduledMu.Unlock()

	for id, entryID := range t.scheduled {
		t.cron.Remove(entryID)
		delete(t.scheduled, id)
	}

	for _, category := range categories {
		if category.Schedule == nil || *category.Schedule == "" {
			continue
		}
		if err := t.scheduleLocked(category); err != nil {
			t.logger.Error("failed to schedule category",
				logger.String("category_id", category.ID),
				logger.String("schedule", *category.Schedule),
				logger.Error(err),
			)
		}
	}

	return nil
}

// scheduleLocked registers one category's cron entry. Caller holds the lock.
func (t *CronTrigger) scheduleLocked(category *domain.Category) error {
	spec := *category.Schedule

	if _, err := t.cronParser.Parse(spec); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", spec, err)
	}

	categoryID := category.ID
	entryID, err := t.cron.AddFunc(spec, func() {
		t.fire(categoryID)
	})
	if err != nil {
		return fmt.Errorf("register cron entry: %w", err)
	}

	t.scheduled[categoryID] = entryID
	t.logger.Debug("category scheduled",
		logger.String("category_id", categoryID),
		logger.String("schedule", spec),
	)
	return nil
}

// fire enqueues one job for the category at default priority. Duplicate
// pending jobs collapse in the store, so an overdue schedule never piles up.
func (t *CronTrigger) fire(categoryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := t.service.CreateJob(ctx, categoryID, domain.PriorityDefault, map[string]any{
		"trigger": "schedule",
	})
	if err != nil {
		t.logger.Error("scheduled enqueue failed",
			logger.String("category_id", categoryID),
			logger.Error(err),
		)
		return
	}

	t.logger.Info("scheduled job enqueued",
		logger.String("category_id", categoryID),
		logger.String("job_id", job.ID),
	)
}

func (t *CronTrigger) reloadLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			if err := t.Reload(ctx); err != nil {
				t.logger.Error("schedule reload failed", logger.Error(err))
			}
		}
	}
}

func (t *CronTrigger) scheduleCount() int {
	t.scheduledMu.Lock()
	defer t.scheduledMu.Unlock()
	return len(t.scheduled)
}
