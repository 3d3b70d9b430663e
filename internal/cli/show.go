package cli

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/txm/internal/cli/render"
	"github.com/trebuchet-org/txm/internal/domain"
)

// NewShowCmd creates the show command
func NewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <intent-id>",
		Short: "Show detailed information about a transaction",
		Long: `Show detailed information about a stored transaction, including every
broadcast attempt with its nonce, fees and hash.

Calls built from the ABI manifest are decoded when --abis is given.`,
		Example: `  # Show a transaction
  txm show 6f1c0c0e-3f35-4c4f-9f0a-1b7e2b9d4c11

  # Output the stored record as JSON
  txm show 6f1c0c0e-3f35-4c4f-9f0a-1b7e2b9d4c11 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intentID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid intent id %q: %w", args[0], err)
			}

			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, app)
			defer cancel()

			tx, err := app.Manager.GetTransaction(ctx, intentID)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("transaction %s not found", intentID)
			}
			if err != nil {
				return err
			}

			if app.Config.JSON {
				record, err := tx.ToRecord()
				if err != nil {
					return err
				}
				return render.RenderJSON(cmd.OutOrStdout(), record)
			}

			renderer := render.NewTransactionRenderer(cmd.OutOrStdout(), colorEnabled(), app.ABIs)
			return renderer.RenderTransaction(tx)
		},
	}

	return cmd
}
