package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	workerConcurrency int
	workerDrain       bool
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued extraction jobs",
	Long: `Claim extraction jobs from the work queue and run them until interrupted.

Failed jobs are retried with exponential backoff up to queue.max_attempts;
tasks that keep failing are moved to the dead-letter set.

Examples:
  storesync worker
  storesync worker --concurrency 4
  storesync worker --drain`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "n", 0, "parallel jobs (default worker.concurrency)")
	workerCmd.Flags().BoolVar(&workerDrain, "drain", false, "process visible tasks one by one, then exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if !workerDrain {
		return application.RunWorkers(ctx, workerConcurrency)
	}

	w := application.Worker(1)
	processed := 0
	for ctx.Err() == nil {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if !worked {
			break
		}
		processed++
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d task(s).\n", processed)
	return nil
}
