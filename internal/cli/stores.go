package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/storesync/internal/domain"
)

var storesForce bool

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List, inspect and delete stores",
	Long: `List the acting user's stores (every store with --admin).

Subcommands:
  list    List stores with catalog counts (default)
  show    Show one store with its latest job
  delete  Delete a store with its jobs and catalog

Examples:
  storesync stores --user u1
  storesync stores show 3f6c... --user u1
  storesync stores delete 3f6c... --user u1 --force`,
	Args: cobra.NoArgs,
	RunE: runStoresList,
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stores with catalog counts",
	Args:  cobra.NoArgs,
	RunE:  runStoresList,
}

var storesShowCmd = &cobra.Command{
	Use:   "show <store-id>",
	Short: "Show one store with its latest job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoresShow,
}

var storesDeleteCmd = &cobra.Command{
	Use:   "delete <store-id>",
	Short: "Delete a store with its jobs and catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoresDelete,
}

func init() {
	storesDeleteCmd.Flags().BoolVarP(&storesForce, "force", "f", false, "skip confirmation")

	storesCmd.AddCommand(storesListCmd)
	storesCmd.AddCommand(storesShowCmd)
	storesCmd.AddCommand(storesDeleteCmd)
}

func runStoresList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var (
		stores []domain.StoreSummary
		err    error
	)
	if asAdmin {
		stores, err = application.Extraction.GetAllStores(ctx)
	} else {
		stores, err = application.Extraction.GetUserStores(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, stores)
	}
	if len(stores) == 0 {
		fmt.Fprintln(out, "No stores found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOMAIN\tPLATFORM\tSTATUS\tPRODUCTS\tCOLLECTIONS\tPAGES\tLAST SYNC")
	for _, s := range stores {
		lastSync := "-"
		if s.LastSyncAt != nil {
			lastSync = s.LastSyncAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID, s.Domain, s.Platform, s.SyncStatus, s.ProductCount, s.CollectionCount, s.PageCount, lastSync)
	}
	return tw.Flush()
}

func runStoresShow(cmd *cobra.Command, args []string) error {
	details, err := application.Extraction.GetStoreDetails(cmd.Context(), args[0], actor())
	if err != nil {
		return fmt.Errorf("get store: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, details)
	}
	fmt.Fprintf(out, "Store:       %s\n", details.ID)
	fmt.Fprintf(out, "Name:        %s\n", details.StoreName)
	fmt.Fprintf(out, "URL:         %s\n", details.StoreURL)
	fmt.Fprintf(out, "Platform:    %s\n", details.Platform.DisplayName())
	fmt.Fprintf(out, "Currency:    %s\n", details.Currency)
	fmt.Fprintf(out, "Status:      %s\n", details.SyncStatus)
	fmt.Fprintf(out, "Products:    %d\n", details.ProductCount)
	fmt.Fprintf(out, "Collections: %d\n", details.CollectionCount)
	fmt.Fprintf(out, "Pages:       %d\n", details.PageCount)
	if job := details.LatestJob; job != nil {
		fmt.Fprintf(out, "Latest job:  %s %s %d%%", job.ID, job.Status, job.Progress)
		if job.ErrorMessage != "" {
			fmt.Fprintf(out, " (%s)", job.ErrorMessage)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runStoresDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	storeID := args[0]

	if !storesForce {
		details, err := application.Extraction.GetStoreDetails(ctx, storeID, actor())
		if err != nil {
			return fmt.Errorf("get store: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "About to delete: %s (%s) with %d products\n", details.Domain, details.ID, details.ProductCount)
		fmt.Fprint(cmd.OutOrStdout(), "\nContinue? [y/N]: ")

		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := application.Extraction.DeleteStore(ctx, storeID, actor()); err != nil {
		return fmt.Errorf("delete store: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted store %s\n", storeID)
	return nil
}
