package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRouteCmd(opts *appOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "route <request>",
		Short: "Show which specialists a request would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.useRouter(""); err != nil {
					return err
				}
				d, err := a.router.Route(ctx, text)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(d)
				}
				fmt.Fprintln(out, strings.Join(d.Names, "\n"))
				if d.Fallback {
					fmt.Fprintf(cmd.ErrOrStderr(), "fallback (%s): %s\n", d.Source, d.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return cmd
}
