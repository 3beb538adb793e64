package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry <store-id>",
	Short: "Queue a new extraction for an existing store",
	Long: `Create a new extraction job for a store. Earlier jobs keep their final
state; a job still queued for the store is skipped when it is claimed.

Examples:
  storesync retry 3f6c... --user u1
  storesync retry 3f6c... --admin`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func runRetry(cmd *cobra.Command, args []string) error {
	job, err := application.Extraction.RetryExtraction(cmd.Context(), args[0], actor())
	if err != nil {
		return fmt.Errorf("retry extraction: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), job)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s for store %s\n", job.ID, job.StoreID)
	return nil
}
