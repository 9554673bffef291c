package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/fyrsmithlabs/refacta/internal/http"
)

type serveOptions struct {
	host    string
	port    int
	replay  string
	publish bool
	watch   bool
}

func newServeCmd(opts *appOptions) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve exposes routing and runs over HTTP. Runs stream as server-sent
events to clients that accept text/event-stream. With NATS enabled, run
updates are also published and can be followed from
/api/v1/runs/{run_id}/events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return serve(ctx, cmd, a, so)
			})
		},
	}

	cmd.Flags().StringVar(&so.host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&so.port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().StringVar(&so.replay, "replay", "", "answer every run from a recorded stream-json transcript")
	cmd.Flags().BoolVar(&so.publish, "publish", false, "publish run updates to NATS")
	cmd.Flags().BoolVar(&so.watch, "watch", false, "reload specialists when their definitions change")
	return cmd
}

func serve(ctx context.Context, cmd *cobra.Command, a *app, so *serveOptions) error {
	if err := a.useSession(ctx, so.replay, so.publish); err != nil {
		return err
	}

	cfg := &httpserver.Config{
		Host:    a.cfg.Server.Host,
		Port:    a.cfg.Server.Port,
		Version: version,
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = so.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = so.port
	}

	var serverOpts []httpserver.Option
	if a.publisher != nil {
		serverOpts = append(serverOpts, httpserver.WithEventSource(a.publisher))
	}
	srv, err := httpserver.NewServer(a.session, a.registry, a.logger.Named("http"), cfg, serverOpts...)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.cfg.Specialists.Watch || so.watch {
		g.Go(func() error {
			if err := a.registry.Watch(gctx); err != nil {
				a.logger.Warn(gctx, "specialist reload disabled", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
			return err
		}
		return nil
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "refacta listening on http://%s:%d\n", cfg.Host, cfg.Port)
	return g.Wait()
}
