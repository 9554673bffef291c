package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/refacta/internal/ledger"
	"github.com/fyrsmithlabs/refacta/internal/monitor"
)

func newLedgerCmd(opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the project's edit ledger",
	}

	var raw bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the edit ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				path, err := ledgerPath(a)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(path)
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("no ledger at %s", path)
				}
				if err != nil {
					return fmt.Errorf("reading ledger: %w", err)
				}

				out := cmd.OutOrStdout()
				if raw {
					_, err = out.Write(data)
					return err
				}
				rendered, err := monitor.RenderMarkdown(string(data), terminalWidth())
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(out, rendered)
				return err
			})
		},
	}
	show.Flags().BoolVar(&raw, "raw", false, "print markdown without rendering")

	path := &cobra.Command{
		Use:   "path",
		Short: "Print where the edit ledger is written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				p, err := ledgerPath(a)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}

func ledgerPath(a *app) (string, error) {
	root, err := ledger.ResolveRoot(a.root)
	if err != nil {
		return "", err
	}
	opts := sessionConfig(a.cfg, a.root).Ledger
	// Previews are never written here, so the allowlists need not load.
	opts.Redact = false
	l, err := ledger.New(root, opts)
	if err != nil {
		return "", err
	}
	return l.Path(), nil
}
