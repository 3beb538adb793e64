package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusFollow bool

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show an extraction job's progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "poll until the job finishes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusFollow {
		return followJob(cmd.Context(), cmd, args[0])
	}

	status, err := application.Extraction.GetExtractionStatus(cmd.Context(), args[0], actor())
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, status)
	}
	fmt.Fprintf(out, "Job:      %s\n", status.JobID)
	fmt.Fprintf(out, "Store:    %s (%s, %s)\n", status.StoreID, status.Store.StoreURL, status.Store.Platform.DisplayName())
	fmt.Fprintf(out, "Status:   %s\n", status.Status)
	fmt.Fprintf(out, "Progress: %d%% %s\n", status.Progress, status.ProgressMessage)
	fmt.Fprintf(out, "Attempts: %d\n", status.Attempts)
	if status.CompletedAt != nil {
		fmt.Fprintf(out, "Finished: %s\n", status.CompletedAt.Format(time.RFC3339))
	}
	if status.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", status.ErrorMessage)
	}
	return nil
}
