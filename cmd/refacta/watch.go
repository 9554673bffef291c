package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/notify"
)

func newWatchCmd(opts *appOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Follow run updates published to NATS",
		Long: `Watch prints run updates published by other refacta processes. Without
a run id it follows every run until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				pub, err := notify.Connect(a.cfg.NATS.URL, a.cfg.NATS.SubjectPrefix, a.logger.Named("notify"))
				if err != nil {
					return err
				}
				defer pub.Close()
				return follow(ctx, cmd, pub, runID, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each update as a JSON line")
	return cmd
}

// follow prints updates until ctx is done or, with a run id, until that
// run finishes.
func follow(ctx context.Context, cmd *cobra.Command, pub *notify.Publisher, runID string, asJSON bool) error {
	updates := make(chan engine.Update, 64)
	sub, err := pub.Subscribe(runID, func(u engine.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	if err := pub.Flush(ctx); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if asJSON {
				if err := enc.Encode(u); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, describeUpdate(u))
			}
			if runID != "" && u.Kind == engine.UpdateDone {
				return nil
			}
		}
	}
}

func describeUpdate(u engine.Update) string {
	prefix := u.RunID
	if u.Specialist != "" {
		prefix += " " + u.Specialist
	}
	switch u.Kind {
	case engine.UpdateText:
		return fmt.Sprintf("%s: %s", prefix, u.Text)
	case engine.UpdateEdit:
		if u.Edit != nil {
			return fmt.Sprintf("%s: edit %s", prefix, u.Edit.FilePath)
		}
	case engine.UpdateSpecialistDone:
		if u.Run != nil {
			return fmt.Sprintf("%s: %s", prefix, u.Run.Outcome)
		}
	case engine.UpdateDone:
		if u.Result != nil {
			return fmt.Sprintf("%s: done (%s, %d tokens)", prefix, u.Result.Outcome, u.Result.TotalTokens)
		}
	}
	return fmt.Sprintf("%s: %s", prefix, u.Kind)
}
