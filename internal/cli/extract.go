package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/service"
)

var (
	extractToken     string
	extractAPIKey    string
	extractAPISecret string
	extractShop      string
	extractPlatform  string
	extractWait      bool
	extractInline    bool
	extractInterval  time.Duration
)

var extractCmd = &cobra.Command{
	Use:   "extract <store-url>",
	Short: "Connect a store and queue its extraction",
	Long: `Detect the platform behind a storefront URL, create the store and queue
a full catalog extraction.

With --wait the command follows the job until it finishes. Add --inline to
run the job in this process instead of waiting for a separate worker.

Examples:
  storesync extract https://acme.example --user u1 --token shpat_xxx
  storesync extract acme.myshopify.com --user u1 --token shpat_xxx --wait --inline
  storesync extract https://shop.example --user u1 --platform shopify --shop acme.myshopify.com --token shpat_xxx`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractToken, "token", "", "platform access token")
	extractCmd.Flags().StringVar(&extractAPIKey, "api-key", "", "platform API key")
	extractCmd.Flags().StringVar(&extractAPISecret, "api-secret", "", "platform API secret")
	extractCmd.Flags().StringVar(&extractShop, "shop", "", "platform-side shop host when the storefront uses a custom domain")
	extractCmd.Flags().StringVarP(&extractPlatform, "platform", "p", "", "skip detection confidence checks and use this platform")
	extractCmd.Flags().BoolVarP(&extractWait, "wait", "w", false, "follow the job until it completes or fails")
	extractCmd.Flags().BoolVar(&extractInline, "inline", false, "with --wait, run the job in this process")
	extractCmd.Flags().DurationVar(&extractInterval, "interval", time.Second, "status poll interval with --wait")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	result, err := application.Extraction.InitiateExtraction(ctx, service.InitiateRequest{
		UserID:   userID,
		StoreURL: args[0],
		Credentials: domain.Credentials{
			AccessToken: extractToken,
			APIKey:      extractAPIKey,
			APISecret:   extractAPISecret,
			ShopDomain:  extractShop,
		},
		Platform: domain.Platform(extractPlatform),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput && !extractWait {
		return printJSON(out, result)
	}
	fmt.Fprintf(out, "Detected %s (%d%% confidence)\n", result.Detection.Platform.DisplayName(), result.Detection.Confidence)
	fmt.Fprintf(out, "Store: %s\nJob:   %s\n", result.StoreID, result.JobID)
	if !extractWait {
		return nil
	}

	if !extractInline {
		return followJob(ctx, cmd, result.JobID)
	}

	workCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = application.Worker(1).Run(workCtx)
	}()
	err = followJob(ctx, cmd, result.JobID)
	// Let the worker settle its task before the database closes.
	cancel()
	<-done
	return err
}

// followJob polls the job until it reaches a terminal state, printing each
// progress change.
func followJob(ctx context.Context, cmd *cobra.Command, jobID string) error {
	out := cmd.OutOrStdout()
	ticker := time.NewTicker(extractInterval)
	defer ticker.Stop()

	last := -1
	for {
		status, err := application.Extraction.GetExtractionStatus(ctx, jobID, actor())
		if err != nil {
			return err
		}
		if status.Progress != last && !jsonOutput {
			fmt.Fprintf(out, "[%3d%%] %s\n", status.Progress, status.ProgressMessage)
			last = status.Progress
		}
		if status.Status.IsTerminal() {
			if jsonOutput {
				return printJSON(out, status)
			}
			if status.Status == domain.SyncStatusFailed {
				return fmt.Errorf("extraction failed: %s", status.ErrorMessage)
			}
			fmt.Fprintln(out, "Extraction completed.")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
