package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	opts := &appOptions{}

	cmd := &cobra.Command{
		Use:   "refacta",
		Short: "Route refactoring requests to specialist agents",
		Long: `refacta routes free-text refactoring requests to specialist agents,
streams their work, and records every file edit in a markdown ledger.

Examples:
  # Let the router pick specialists
  refacta run "convert the settings page to server components"

  # Talk to one specialist, resuming its previous session
  refacta run --mode direct --specialist python-refactorer "now add type hints"

  # Serve the HTTP API
  refacta serve`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default <project>/.refacta/config.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.project, "project", "p", ".", "project directory")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(opts),
		newRouteCmd(opts),
		newSpecialistsCmd(opts),
		newServeCmd(opts),
		newLedgerCmd(opts),
		newWatchCmd(opts),
		newDashboardCmd(),
		newVersionCmd(),
	)
	return cmd
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withApp runs fn with a loaded app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *appOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, *opts)
	if err != nil {
		return err
	}
	defer func() {
		// Flush telemetry and the ledger even after a signal.
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
