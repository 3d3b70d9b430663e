package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/txm/internal/adapters/progress"
	"github.com/trebuchet-org/txm/internal/app"
	"github.com/trebuchet-org/txm/internal/config"
	"github.com/trebuchet-org/txm/internal/usecase"
)

// contextKey is the type for context keys
type contextKey string

const (
	// appKey is the context key for the app instance
	appKey contextKey = "app"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var cleanup func()

	rootCmd := &cobra.Command{
		Use:   "txm",
		Short: "Crash-safe transaction manager for EVM chains",
		Long: `txm owns nonce assignment, fee calculation, signing, broadcast and
receipt monitoring for a single signing account on a single chain.
Transactions are persisted before they are broadcast, replaced when they
get stuck, retried when they run out of gas and cancelled when their
deadline passes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip for help/version commands
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			v, err := config.SetupViper(".", cmd)
			if err != nil {
				return err
			}

			var sink usecase.ProgressSink = progress.NewSpinnerProgressReporter()
			if v.GetBool("json") {
				sink = progress.NewNopSink()
			}

			appInstance, appCleanup, err := app.InitApp(v, sink)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			cleanup = appCleanup

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging with source locations")
	rootCmd.PersistentFlags().Bool("json", false, "Output JSON and log JSON lines")
	rootCmd.PersistentFlags().String("rpc-url", "", "Node endpoint (http, https, ws or wss)")
	rootCmd.PersistentFlags().Uint64("chain-id", 0, "Expected chain ID of the node")
	rootCmd.PersistentFlags().String("store", "", "Transaction store driver (bolt or file)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding the transaction store")
	rootCmd.PersistentFlags().String("abis", "", "TOML manifest mapping contract names to ABI files")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "main",
		Title: "Main Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "management",
		Title: "Management Commands",
	})

	runCmd := NewRunCmd()
	runCmd.GroupID = "main"
	rootCmd.AddCommand(runCmd)

	submitCmd := NewSubmitCmd()
	submitCmd.GroupID = "main"
	rootCmd.AddCommand(submitCmd)

	listCmd := NewListCmd()
	listCmd.GroupID = "management"
	rootCmd.AddCommand(listCmd)

	showCmd := NewShowCmd()
	showCmd.GroupID = "management"
	rootCmd.AddCommand(showCmd)

	purgeCmd := NewPurgeCmd()
	purgeCmd.GroupID = "management"
	rootCmd.AddCommand(purgeCmd)

	rootCmd.AddCommand(NewVersionCmd())

	// Release the store and node connection after every command, including
	// failed ones
	for _, c := range rootCmd.Commands() {
		if run := c.RunE; run != nil {
			c.RunE = func(cmd *cobra.Command, args []string) error {
				defer func() {
					if cleanup != nil {
						cleanup()
						cleanup = nil
					}
				}()
				return run(cmd, args)
			}
		}
	}

	return rootCmd
}

// getApp retrieves the app instance from the command context
func getApp(cmd *cobra.Command) (*app.App, error) {
	appInstance := cmd.Context().Value(appKey)
	if appInstance == nil {
		return nil, fmt.Errorf("app not initialized")
	}

	app, ok := appInstance.(*app.App)
	if !ok {
		return nil, fmt.Errorf("invalid app instance")
	}

	return app, nil
}

// commandContext bounds ctx by the configured timeout, if any
func commandContext(cmd *cobra.Command, app *app.App) (context.Context, context.CancelFunc) {
	if app.Config.Timeout > 0 {
		return context.WithTimeout(cmd.Context(), app.Config.Timeout)
	}
	return context.WithCancel(cmd.Context())
}
