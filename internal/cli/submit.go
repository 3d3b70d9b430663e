package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/txm/internal/cli/render"
	"github.com/trebuchet-org/txm/internal/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// NewSubmitCmd creates the submit command
func NewSubmitCmd() *cobra.Command {
	var (
		file string
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the transactions described in a YAML file",
		Long: `Submit the transactions described in a YAML intents file.

Each entry names a target address and either raw calldata or a contract
from the ABI manifest with a function and its arguments. Transactions are
persisted before they are broadcast; with --wait the command keeps
monitoring them until every one is finalized.`,
		Example: `  # Submit and return once broadcast
  txm submit -f intents.yaml

  # Submit and wait for every transaction to finalize
  txm submit -f intents.yaml --wait --abis abis.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if err := config.RequireNode(app.Config); err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd, app)
			defer cancel()

			if err := app.Manager.Start(ctx); err != nil {
				return err
			}
			defer app.Manager.Stop()

			result, err := app.SubmitIntents.Run(ctx, usecase.SubmitIntentsParams{
				Path: file,
				Wait: wait,
			})
			if err != nil && result == nil {
				return err
			}

			if app.Config.JSON {
				if jsonErr := renderRecords(cmd, result.Transactions); jsonErr != nil {
					return jsonErr
				}
				return err
			}

			renderer := render.NewTransactionsRenderer(cmd.OutOrStdout(), colorEnabled())
			if renderErr := renderer.RenderSubmitResult(result); renderErr != nil {
				return renderErr
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML intents file")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until every transaction is finalized")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// colorEnabled is false when stdout is not a terminal or NO_COLOR is set
func colorEnabled() bool {
	return !color.NoColor
}
