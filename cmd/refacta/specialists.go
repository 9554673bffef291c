package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSpecialistsCmd(opts *appOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "specialists",
		Aliases: []string{"ls"},
		Short:   "List the specialists defined for the project",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				catalog := a.registry.Catalog()
				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(catalog)
				}
				if len(catalog) == 0 {
					fmt.Fprintf(out, "No specialists found in %s\n", a.resolve(a.cfg.Specialists.Dir))
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDESCRIPTION")
				for _, e := range catalog {
					fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON")
	return cmd
}
