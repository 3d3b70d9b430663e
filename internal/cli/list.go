package cli

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/txm/internal/cli/render"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

var allStatuses = []models.TransactionStatus{
	models.TransactionStatusNotAttempted,
	models.TransactionStatusPending,
	models.TransactionStatusInterrupted,
	models.TransactionStatusCancelling,
	models.TransactionStatusSuccess,
	models.TransactionStatusFailed,
	models.TransactionStatusExpired,
	models.TransactionStatusCancelled,
}

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var (
		statuses []string
		active   bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored transactions",
		Long: `List the stored transactions of the signing account.

The list can be filtered by status. Finalized transactions are removed by
purging, so only recent ones appear once the manager has run for a while.`,
		Example: `  # List all stored transactions
  txm list

  # List transactions the manager is still watching
  txm list --active

  # List failed and expired transactions
  txm list --status failed,expired`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			if active {
				filter = append(filter, models.NotFinalizedStatuses...)
			}

			ctx, cancel := commandContext(cmd, app)
			defer cancel()

			txs, err := app.Manager.ListTransactions(ctx, filter...)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return renderRecords(cmd, txs)
			}

			renderer := render.NewTransactionsRenderer(cmd.OutOrStdout(), colorEnabled())
			return renderer.RenderTransactionList(txs)
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (e.g. pending, success, not-attempted)")
	cmd.Flags().BoolVar(&active, "active", false, "Only list transactions that are not finalized")

	return cmd
}

// parseStatuses accepts status names case-insensitively, with or without separators
func parseStatuses(names []string) ([]models.TransactionStatus, error) {
	var result []models.TransactionStatus
	for _, name := range names {
		normalized := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
		found := false
		for _, status := range allStatuses {
			if strings.ToLower(string(status)) == normalized {
				result = append(result, status)
				found = true
				break
			}
		}
		if !found {
			if suggestion := suggestStatus(normalized); suggestion != "" {
				return nil, fmt.Errorf("invalid status: %s (did you mean %s?)", name, suggestion)
			}
			return nil, fmt.Errorf("invalid status: %s", name)
		}
	}
	return result, nil
}

// suggestStatus returns the best fuzzy match for a mistyped status name
func suggestStatus(input string) string {
	names := make([]string, len(allStatuses))
	for i, status := range allStatuses {
		names[i] = strings.ToLower(string(status))
	}
	matches := fuzzy.Find(input, names)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// renderRecords writes transactions as their stored JSON representation
func renderRecords(cmd *cobra.Command, txs []*models.Transaction) error {
	records := make([]models.TransactionRecord, 0, len(txs))
	for _, tx := range txs {
		record, err := tx.ToRecord()
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	return render.RenderJSON(cmd.OutOrStdout(), records)
}
