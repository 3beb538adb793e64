// Package cli provides the command-line interface for storesync.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/storesync/internal/app"
	"github.com/timmy/storesync/internal/config"
	"github.com/timmy/storesync/internal/domain"
	"github.com/timmy/storesync/internal/logger"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	userID     string
	asAdmin    bool
	jsonOutput bool

	cfg         *config.Config
	application *app.App
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "storesync",
	Short: "Extract commerce store catalogs",
	Long: `storesync connects external commerce stores and pulls their catalog
(store profile, products, collections, pages and policies) into normalized
storage through a durable work queue.

Run "storesync worker" to process queued extractions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.NewDefault()
		logger.SetDefaultLogger(log)

		// detect only probes a URL and needs no storage.
		if cmd.Name() == "detect" {
			return nil
		}
		application, err = app.New(cmd.Context(), cfg, log)
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			application.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return ExecuteContext(ctx)
}

// ExecuteContext runs the CLI with ctx as every command's context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./configs/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("STORESYNC_USER"), "acting user ID")
	rootCmd.PersistentFlags().BoolVar(&asAdmin, "admin", false, "act with admin scope")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(storesCmd)
	rootCmd.AddCommand(detectCmd)
}

func actor() domain.Actor {
	return domain.Actor{UserID: userID, Admin: asAdmin}
}

// printJSON writes v indented to w.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
