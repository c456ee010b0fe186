// Package scheduler implements the periodic ingestion command. It runs
// the ingestion pipeline on a cron schedule until interrupted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	cmdcommon "github.com/blogsearch/ingestor/cmd/common"
	"github.com/blogsearch/ingestor/internal/pipeline"
)

const shutdownTimeout = 30 * time.Second

// Command returns the scheduler command for use in the root command.
func Command(depsFn func() (*cmdcommon.CommandDeps, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run ingestion on a cron schedule",
		Long: `Run the ingestion pipeline periodically on the configured cron
schedule. A tick that arrives while a run is still executing is rejected
and logged; the missed tick is not queued. Runs continuously until
interrupted with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := depsFn()
			if err != nil {
				return err
			}
			return runScheduler(cmd.Context(), deps)
		},
	}
}

func runScheduler(ctx context.Context, deps *cmdcommon.CommandDeps) error {
	stack, err := cmdcommon.NewStack(deps)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			deps.Logger.Error("Failed to close stack", "error", closeErr)
		}
	}()

	log := deps.Logger.WithComponent("scheduler")

	if pingErr := stack.Index.Ping(ctx); pingErr != nil {
		return fmt.Errorf("index backend unreachable: %w", pingErr)
	}
	if ensureErr := stack.Index.EnsureIndex(ctx); ensureErr != nil {
		return fmt.Errorf("failed to ensure index: %w", ensureErr)
	}

	schedule := deps.Config.Scheduler.Schedule
	c := cron.New()
	entryID, err := c.AddFunc(schedule, func() {
		tickStart := time.Now()
		log.Info("Scheduled ingestion triggered", "schedule", schedule)

		run, runErr := stack.Trigger.Run(ctx)
		switch {
		case errors.Is(runErr, pipeline.ErrRunAlreadyInProgress):
			// Overlapping tick: the previous run is still going. Reject,
			// never queue; the next tick picks up the same spool files.
			log.Warn("Skipping tick, previous run still in progress", "schedule", schedule)
		case runErr != nil:
			log.Error("Scheduled run failed", "error", runErr.Error())
		default:
			log.Info("Scheduled run finished",
				"run_id", run.ID,
				"status", string(run.Status),
				"upserted", run.UpsertedCount,
				"skipped", run.SkippedCount,
				"failed", run.FailedCount,
				"tick_duration", time.Since(tickStart).String(),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	c.Start()
	log.Info("Scheduler started",
		"schedule", schedule,
		"next_run", c.Entry(entryID).Next.Format(time.RFC3339),
	)

	// Wait for interrupt signal or context cancellation.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	// Stop accepting ticks, then wait for any in-flight run.
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		log.Info("Scheduler stopped successfully")
	case <-time.After(shutdownTimeout):
		log.Warn("Shutdown timeout elapsed with a run still in flight")
	}
	return nil
}
