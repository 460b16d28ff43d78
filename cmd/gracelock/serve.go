package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	var trace bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a dashboard session over HTTP",
		Long: `serve mounts a session for the configured user and keeps the grace timers
of every loaded cell running; expired windows are locked as they run out.
All rows are loaded on start, later loads follow /records requests.

Endpoints:
  GET /records        rows with the lock state of every cell
  GET /audit          audit log, newest first
  GET /feed           countdown updates over Server-Sent Events
  GET /feed/ws        countdown updates over WebSocket
  GET /metrics        Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if trace {
				shutdown, err := setupTracing()
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
			}

			stack, tr, closeFn, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := tr.LoadPage(ctx, adapter.Filter{}, adapter.Range{}); err != nil {
				return err
			}
			if err := tr.Mount(ctx); err != nil {
				return err
			}
			tr.SignIn(ctx)

			reg := metrics.NewRegistry()
			metrics.RegisterCoreMetrics(reg)
			srv := &http.Server{
				Addr:              a.cfg.HTTP.Addr,
				Handler:           newHandler(tr, stack.Feed, reg),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			a.logger.Info("gracelock: serving", "addr", a.cfg.HTTP.Addr, "user", tr.User(), "tier", tr.Tier())

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "print OpenTelemetry spans to stdout")
	return cmd
}

func setupTracing() (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
