// Package purge implements the purge command, which clears the article
// index and the fingerprint ledger together so they stay consistent.
package purge

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcommon "github.com/blogsearch/ingestor/cmd/common"
)

// Command returns the purge command for use in the root command.
func Command(depsFn func() (*cmdcommon.CommandDeps, error)) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all indexed articles and fingerprints",
		Long: `Delete every document from the article index and every entry from
the fingerprint ledger. Both are cleared together: a ledger entry exists
exactly when its document exists in the index, and the next run re-indexes
everything from the spool.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return fmt.Errorf("refusing to purge without --confirm")
			}
			deps, err := depsFn()
			if err != nil {
				return err
			}
			return executePurge(cmd, deps)
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the purge")
	return cmd
}

func executePurge(cmd *cobra.Command, deps *cmdcommon.CommandDeps) error {
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
	log := deps.Logger.WithComponent("purge")

	count, err := stack.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count indexed documents: %w", err)
	}

	// Ledger first. A fingerprint entry must never outlive its document:
	// if the index delete below fails, missing entries only cause
	// harmless re-upserts on the next run.
	if err := stack.Fingerprint.PurgeAll(); err != nil {
		return fmt.Errorf("failed to purge fingerprint ledger: %w", err)
	}
	log.Info("Purged fingerprint ledger")

	if err := stack.Index.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to delete indexed documents: %w", err)
	}
	log.Info("Deleted indexed documents", "count", count)

	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d documents and the fingerprint ledger\n", count)
	return nil
}
