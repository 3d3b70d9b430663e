package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/txm/internal/app"
	"github.com/trebuchet-org/txm/internal/cli/render"
	"github.com/trebuchet-org/txm/internal/config"
	"github.com/trebuchet-org/txm/internal/domain"
	"github.com/trebuchet-org/txm/internal/telemetry"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var intentsFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transaction manager until interrupted",
		Long: `Run the transaction manager as a long-running service.

On start the chain ID is verified, not finalized transactions are restored
from the store and monitoring resumes where the last run stopped. The
service stops on SIGINT or SIGTERM.`,
		Example: `  # Follow the chain and resume stored transactions
  txm run --rpc-url ws://localhost:8546 --chain-id 31337

  # Submit the transactions in intents.yaml on the first block
  txm run --intents intents.yaml

  # Serve prometheus metrics on :9090/metrics
  txm run --metrics-port 9090

  # Export spans to an OTLP collector
  TXM_TELEMETRY_ENDPOINT=http://localhost:4318 txm run --trace otlp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}
			if err := config.RequireNode(app.Config); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, app.Config.Telemetry, config.Version, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(flushCtx); err != nil {
					app.Log.Warn("failed to flush traces", "error", err)
				}
			}()

			unsubscribe := watchStatusChanges(app, cmd.OutOrStdout())
			defer unsubscribe()

			if intentsFile != "" {
				n, err := app.SubmitIntents.Queue(intentsFile)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Queued %d transactions from %s\n", n, intentsFile)
			}

			if err := app.Manager.Start(ctx); err != nil {
				return err
			}
			defer app.Manager.Stop()

			if app.Config.Metrics.Port > 0 {
				shutdown := serveMetrics(app)
				defer shutdown()
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Managing transactions from %s on chain %d\n", app.Manager.Address().Hex(), app.Manager.ChainID())
			<-ctx.Done()
			fmt.Fprintln(cmd.ErrOrStderr(), "Shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&intentsFile, "intents", "", "YAML file of transactions to submit on the first block")
	cmd.Flags().Int("metrics-port", 0, "Serve prometheus metrics on this port (0 disables)")
	cmd.Flags().String("trace", "", "Span exporter: none, stdout (JSON on stderr) or otlp")

	return cmd
}

// watchStatusChanges prints one line per status transition and submission failure
func watchStatusChanges(app *app.App, out io.Writer) func() {
	offStatus := app.Manager.AddHook(domain.HookTransactionStatusChanged, func(_ context.Context, event domain.Event) error {
		e, ok := event.(domain.TransactionStatusChangedEvent)
		if !ok {
			return nil
		}
		if app.Config.JSON {
			return render.RenderJSON(out, map[string]any{
				"intentId": e.Transaction.IntentID,
				"from":     e.From,
				"to":       e.To,
			})
		}
		_, err := fmt.Fprintf(out, "%s  %s → %s\n", e.Transaction.IntentID, render.StatusLabel(e.From), render.StatusLabel(e.To))
		return err
	})
	offFailed := app.Manager.AddHook(domain.HookTransactionSubmissionFailed, func(_ context.Context, event domain.Event) error {
		e, ok := event.(domain.TransactionSubmissionFailedEvent)
		if !ok {
			return nil
		}
		if app.Config.JSON {
			return render.RenderJSON(out, map[string]any{
				"intentId": e.Transaction.IntentID,
				"cause":    e.Cause,
				"error":    e.Description,
			})
		}
		_, err := fmt.Fprintln(out, render.FormatWarning(fmt.Sprintf("%s  submission failed (%s): %s", e.Transaction.IntentID, e.Cause, e.Description)))
		return err
	})
	return func() {
		offStatus()
		offFailed()
	}
}

// serveMetrics exposes the prometheus registry until the returned function is called
func serveMetrics(app *app.App) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.Config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Error("metrics server stopped", "error", err)
		}
	}()
	app.Log.Info("serving metrics", "addr", srv.Addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
