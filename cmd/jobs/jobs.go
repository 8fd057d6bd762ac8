// Package jobs implements the job management subcommands: creating,
// inspecting, reprioritizing and deleting crawl jobs.
package jobs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/north-cloud/category-crawler/internal/config"
	"github.com/north-cloud/category-crawler/internal/database"
	"github.com/north-cloud/category-crawler/internal/domain"
	"github.com/north-cloud/category-crawler/internal/logger"
	"github.com/north-cloud/category-crawler/internal/scheduler"
)

// Command returns the jobs command and its subcommands.
func Command(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage crawl jobs",
		Long: `Manage crawl jobs: enqueue new jobs, inspect their status, change
priorities, and delete jobs that are no longer wanted.`,
	}

	cmd.AddCommand(
		newCreateCmd(cfgFile),
		newListCmd(cfgFile),
		newGetCmd(cfgFile),
		newStatusCmd(cfgFile),
		newSetPriorityCmd(cfgFile),
		newDeleteCmd(cfgFile),
	)

	return cmd
}

// withService loads config, connects to the database, and hands a job
// service to fn. The CLI has no dispatcher, so force-deleting running jobs
// is not available here.
func withService(cfgFile string, fn func(*scheduler.Service) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// CLI output goes to stdout; keep log noise on stderr at warn level.
	log, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	service := scheduler.NewService(
		database.NewJobRepository(db),
		database.NewCategoryRepository(db),
		nil,
		log,
	)

	return fn(service)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newCreateCmd(cfgFile *string) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "create <category-id>",
		Short: "Enqueue a crawl job for a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(*cfgFile, func(service *scheduler.Service) error {
				job, err := service.CreateJob(cmd.Context(), args[0], priority, map[string]any{
					"trigger": "manual",
				})
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}

	cmd.Flags().IntVar(&priority, "priority", domain.PriorityDefault,
		fmt.Sprintf("job priority (%d-%d, higher runs sooner)", domain.PriorityMin, domain.PriorityMax))

	return cmd
}

func newListCmd(cfgFile *string) *cobra.Command {
	var (
		status     string
		categoryID string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" && !domain.ValidJobStatus(status) {
				return fmt.Errorf("unknown status %q", status)
			}
			return withService(*cfgFile, func(service *scheduler.Service) error {
				jobs, err := service.ListJobs(cmd.Context(), database.ListJobsParams{
					Status:     status,
					CategoryID: categoryID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				return printJSON(jobs)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, running, completed, failed)")
	cmd.Flags().StringVar(&categoryID, "category", "", "filter by category id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to list")

	return cmd
}

func newGetCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(*cfgFile, func(service *scheduler.Service) error {
				job, err := service.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}
}

func newStatusCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's execution status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(*cfgFile, func(service *scheduler.Service) error {
				status, err := service.GetStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(status)
			})
		},
	}
}

func newSetPriorityCmd(cfgFile *string) *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "set-priority <job-id>",
		Short: "Change a pending job's priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(*cfgFile, func(service *scheduler.Service) error {
				job, err := service.SetPriority(cmd.Context(), args[0], priority)
				if err != nil {
					return err
				}
				return printJSON(job)
			})
		},
	}

	cmd.Flags().IntVar(&priority, "priority", domain.PriorityDefault, "new priority")
	_ = cmd.MarkFlagRequired("priority")

	return cmd
}

func newDeleteCmd(cfgFile *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a crawl job",
		Long: `Delete a crawl job. Running jobs are only cancelled with --force, and
only by the daemon that is executing them; this CLI can delete pending
and finished jobs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(*cfgFile, func(service *scheduler.Service) error {
				impact, err := service.DeleteJob(cmd.Context(), args[0], force)
				if err != nil {
					return err
				}
				return printJSON(impact)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "cancel the job if it is running")

	return cmd
}
