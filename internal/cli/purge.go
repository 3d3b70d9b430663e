package cli

import (
	"fmt"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/txm/internal/cli/render"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

var terminalStatuses = []models.TransactionStatus{
	models.TransactionStatusSuccess,
	models.TransactionStatusFailed,
	models.TransactionStatusExpired,
	models.TransactionStatusCancelled,
}

// NewPurgeCmd creates the purge command
func NewPurgeCmd() *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finalized transactions older than purge.age",
		Long: `Delete finalized transactions from the store.

Only transactions in a terminal status (success, failed, expired or
cancelled) that were last updated more than purge.age ago are removed.
A running manager purges on its own every purge.interval.`,
		Example: `  # Preview what would be deleted
  txm purge --dry-run

  # Delete without confirmation
  TXM_PURGE_AGE=24h txm purge --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if app.Config.Purge.Age <= 0 {
				return fmt.Errorf("purging is disabled (purge.age is 0)")
			}

			ctx, cancel := commandContext(cmd, app)
			defer cancel()

			finalized, err := app.Manager.ListTransactions(ctx, terminalStatuses...)
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-app.Config.Purge.Age)
			var candidates []*models.Transaction
			for _, tx := range finalized {
				if tx.UpdatedAt().Before(cutoff) {
					candidates = append(candidates, tx)
				}
			}

			out := cmd.OutOrStdout()
			if len(candidates) == 0 {
				fmt.Fprintln(out, "Nothing to purge")
				return nil
			}

			if dryRun && app.Config.JSON {
				return renderRecords(cmd, candidates)
			}
			if !app.Config.JSON {
				renderer := render.NewTransactionsRenderer(out, colorEnabled())
				if err := renderer.RenderTransactionList(candidates); err != nil {
					return err
				}
			}
			if dryRun {
				return nil
			}

			if !yes && !app.Config.JSON && !confirmPrompt("Delete these transactions? This cannot be undone") {
				fmt.Fprintln(out, "❌ Purge cancelled.")
				return nil
			}

			deleted, err := app.Manager.PurgeFinalizedTransactions(ctx)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return render.RenderJSON(out, map[string]int{"deleted": deleted})
			}
			fmt.Fprintln(out, render.FormatSuccess(fmt.Sprintf("Purged %d transactions", deleted)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be deleted without deleting")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// confirmPrompt asks the user a yes/no question and returns their choice.
func confirmPrompt(label string) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	_, err := prompt.Run()
	return err == nil
}
