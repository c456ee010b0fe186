// Package run implements the one-shot ingestion command. It executes a
// single ingestion run and prints a summary table of the outcome.
package run

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	cmdcommon "github.com/blogsearch/ingestor/cmd/common"
	"github.com/blogsearch/ingestor/internal/domain"
)

// runDurationPrecision rounds the reported duration for display.
const runDurationPrecision = time.Millisecond

// Command returns the run command for use in the root command.
func Command(depsFn func() (*cmdcommon.CommandDeps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one ingestion run",
		Long: `Execute one ingestion run: read pending spool files, upsert changed
articles into the index, and commit fingerprints for confirmed documents.
Exits non-zero when the run fails or any document fails to index.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := depsFn()
			if err != nil {
				return err
			}
			return executeRun(cmd, deps)
		},
	}
}

func executeRun(cmd *cobra.Command, deps *cmdcommon.CommandDeps) error {
	stack, err := cmdcommon.NewStack(deps)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			deps.Logger.Error("Failed to close stack", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if err := stack.Index.Ping(ctx); err != nil {
		return fmt.Errorf("index backend unreachable: %w", err)
	}
	if err := stack.Index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("failed to ensure index: %w", err)
	}

	ingestionRun, runErr := stack.Trigger.Run(ctx)
	if ingestionRun != nil {
		renderSummary(ingestionRun)
	}
	if runErr != nil {
		return fmt.Errorf("ingestion run failed: %w", runErr)
	}
	if ingestionRun.FailedCount > 0 {
		return fmt.Errorf("%d documents failed to index", ingestionRun.FailedCount)
	}
	return nil
}

// renderSummary prints the run outcome as a plain table.
func renderSummary(run *domain.IngestionRun) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Run", "Status", "Processed", "Upserted", "Skipped", "Failed", "Invalid", "Duration"})
	t.AppendRow(table.Row{
		run.ID,
		string(run.Status),
		strconv.Itoa(run.ProcessedCount),
		strconv.Itoa(run.UpsertedCount),
		strconv.Itoa(run.SkippedCount),
		strconv.Itoa(run.FailedCount),
		strconv.Itoa(run.InvalidCount),
		run.Duration().Round(runDurationPrecision).String(),
	})
	t.Render()

	if run.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", run.Error)
	}
}
