package main

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/refacta/internal/monitor"
)

func newDashboardCmd() *cobra.Command {
	var (
		serverURL string
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show token and spend totals of a running refacta server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			p := tea.NewProgram(monitor.NewModel(serverURL, interval), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9191", "refacta server URL")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	return cmd
}
