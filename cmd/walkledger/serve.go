package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pawtrail/walkledger/internal/api"
	"github.com/pawtrail/walkledger/internal/sweeper"
	"github.com/pawtrail/walkledger/pkg/config"
	"github.com/pawtrail/walkledger/pkg/httpserver"
	"github.com/pawtrail/walkledger/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled expiry sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	var httpCfg httpserver.Config
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	log := newLogger(cfg)
	log.InfoContext(ctx, "starting walkledger",
		"version", Version,
		"store", cfg.Store,
		"gateway", cfg.Gateway)

	a, err := newApp(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		log.ErrorContext(ctx, "failed to initialize", logger.Error(err))
		return err
	}
	defer a.close()

	sw := sweeper.New(a.ledger,
		sweeper.WithLogger(log),
		sweeper.WithTimeout(cfg.SweepTimeout),
		sweeper.WithObserver(a.metrics.ObserveSweep),
	)
	if err := sw.Start(ctx, cfg.SweepSchedule); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SweepTimeout+time.Second)
		defer cancel()
		sw.Stop(stopCtx)
	}()

	if cfg.AdminToken == "" {
		log.InfoContext(ctx, "ADMIN_TOKEN not set, admin routes disabled")
	}

	router := api.NewRouter(api.Config{
		Ledger:     a.ledger,
		Sweeper:    sw,
		Logger:     log.With(logger.Component("http")),
		Metrics:    a.metrics,
		Readiness:  a.readiness,
		AdminToken: cfg.AdminToken,

		RateLimiter: a.limiter,
		TrustProxy:  a.trustIP,
	})

	return httpserver.New(httpCfg, httpserver.WithLogger(log)).Run(ctx, router)
}
