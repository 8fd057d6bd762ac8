package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
)

func TestCronTriggerReloadSyncsSchedules(t *testing.T) {
	categories := testCategories()
	service, _ := newTestService(nil)
	trigger := NewCronTrigger(service, categories, logger.Nop())

	require.NoError(t, trigger.Reload(context.Background()))
	assert.Equal(t, 1, trigger.scheduleCount(), "only enabled categories with a schedule register")

	// Disabling the category drops its entry on the next reload.
	categories.categories["cat-tech"].Enabled = false
	require.NoError(t, trigger.Reload(context.Background()))
	assert.Equal(t, 0, trigger.scheduleCount())
}

func TestCronTriggerSkipsInvalidExpressions(t *testing.T) {
	categories := testCategories()
	bad := "not a cron spec"
	categories.categories["cat-bad"] = &domain.Category{
		ID:       "cat-bad",
		Name:     "Broken",
		Enabled:  true,
		Schedule: &bad,
	}

	service, _ := newTestService(nil)
	trigger := NewCronTrigger(service, categories, logger.Nop())

	require.NoError(t, trigger.Reload(context.Background()))
	assert.Equal(t, 1, trigger.scheduleCount(), "invalid schedules are skipped, valid ones survive")
}

func TestCronTriggerFireEnqueuesAtDefaultPriority(t *testing.T) {
	categories := testCategories()
	jobs := newMemJobStore()
	service := NewService(jobs, categories, nil, logger.Nop())
	trigger := NewCronTrigger(service, categories, logger.Nop())

	trigger.fire("cat-tech")

	pending, err := jobs.List(context.Background(), database.ListJobsParams{Status: domain.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	job := pending[0]
	assert.Equal(t, "cat-tech", job.CategoryID)
	assert.Equal(t, domain.PriorityDefault, job.Priority)
	assert.Equal(t, "schedule", job.Metadata["trigger"])
}

func TestCronTriggerFireCollapsesOverdueRuns(t *testing.T) {
	categories := testCategories()
	jobs := newMemJobStore()
	service := NewService(jobs, categories, nil, logger.Nop())
	trigger := NewCronTrigger(service, categories, logger.Nop())

	trigger.fire("cat-tech")
	trigger.fire("cat-tech")

	count, err := jobs.Count(context.Background(), domain.JobStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
