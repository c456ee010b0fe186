// Package cmd implements the command-line interface for the ingestor.
// It provides the root command and subcommands for running, scheduling,
// serving, and purging article ingestion.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cmdcommon "github.com/blogsearch/ingestor/cmd/common"
	cmdhttpd "github.com/blogsearch/ingestor/cmd/httpd"
	cmdpurge "github.com/blogsearch/ingestor/cmd/purge"
	cmdrun "github.com/blogsearch/ingestor/cmd/run"
	cmdscheduler "github.com/blogsearch/ingestor/cmd/scheduler"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	// rootCmd represents the root command for the ingestor CLI.
	rootCmd = &cobra.Command{
		Use:   "ingestor",
		Short: "Crawl-to-index article ingestion",
		Long: `Ingestor moves crawled articles from the spool into the search index.
It reads dated CSV files dropped by the crawler, skips articles whose
content has not changed since the last run, and upserts the rest in
batches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment variables are available to Viper.
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

// newDeps builds command dependencies from the global flags. Deferred so
// flags are parsed before configuration loads.
func newDeps() (*cmdcommon.CommandDeps, error) {
	return cmdcommon.NewCommandDeps(cfgFile, debug)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml, ./config/config.yaml, or /etc/ingestor/config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ingestor version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(cmdrun.Command(newDeps))
	rootCmd.AddCommand(cmdscheduler.Command(newDeps))
	rootCmd.AddCommand(cmdhttpd.Command(newDeps))
	rootCmd.AddCommand(cmdpurge.Command(newDeps))
}
