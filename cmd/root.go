// Package cmd implements the command-line interface for the category
// crawler. It provides the root command plus subcommands for running the
// crawl daemon and managing jobs.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/north-cloud/category-crawler/cmd/daemon"
	"github.com/north-cloud/category-crawler/cmd/jobs"
)

const version = "1.0.0"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "crawler",
		Short: "Category-driven news crawler",
		Long: `A news crawler that discovers articles for configured categories,
resolves aggregator redirects with browser sessions, and persists
deduplicated articles.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("crawler version %s\n", version)
		},
	})

	rootCmd.AddCommand(daemon.Command(&cfgFile))
	rootCmd.AddCommand(jobs.Command(&cfgFile))
}
