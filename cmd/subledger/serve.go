package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/api"
	audithook "github.com/xraph/subledger/audit_hook"
	"github.com/xraph/subledger/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("database connection established", "driver", cfg.DatabaseDriver)

	ledgerOpts := []subledger.Option{
		subledger.WithLogger(logger),
		subledger.WithPlanCacheTTL(cfg.PlanCacheTTL),
		subledger.WithPlugin(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))),
	}

	var metrics http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		factory := observability.NewPrometheusFactory(reg)
		ledgerOpts = append(ledgerOpts, subledger.WithPlugin(observability.NewMetricsExtension(factory)))
		metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	l := subledger.New(st, ledgerOpts...)
	if err := l.Start(ctx); err != nil {
		_ = l.Stop()
		return err
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.NewRouter(l, api.Config{
			CORSOrigins:    cfg.Origins(),
			JWTSecret:      cfg.JWTSecret,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
			Metrics:        metrics,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		return l.Stop()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
