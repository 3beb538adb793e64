package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/storesync/internal/detector"
)

var detectCmd = &cobra.Command{
	Use:   "detect <store-url>",
	Short: "Identify the commerce platform behind a URL",
	Long: `Fetch a storefront once and score it against the known platform
signatures. Nothing is stored.

Examples:
  storesync detect https://acme.example
  storesync detect shop.example --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	d := detector.New(detector.Config{
		Timeout:      cfg.Detector.Timeout,
		UserAgent:    cfg.Detector.UserAgent,
		MaxBodyBytes: cfg.Detector.MaxBodyBytes,
	})
	result, err := d.Detect(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, result)
	}
	fmt.Fprintf(out, "URL:        %s\n", detector.NormalizeURL(args[0]))
	fmt.Fprintf(out, "Platform:   %s\n", result.Platform.DisplayName())
	fmt.Fprintf(out, "Confidence: %d%%\n", result.Confidence)
	if len(result.Indicators) > 0 {
		fmt.Fprintf(out, "Indicators: %s\n", strings.Join(result.Indicators, ", "))
	}
	return nil
}
