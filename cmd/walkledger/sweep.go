package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pawtrail/walkledger/internal/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire every subscription past its end date, once",
	Long: `sweep persists the expiry of active subscriptions whose end date has passed.
Reads already treat such subscriptions as expired; the sweep only makes the
stored status match. It is safe to run at any time and any number of times.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SweepTimeout)
		defer cancel()

		log := newLogger(cfg)
		a, err := newApp(ctx, cfg, log, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.close()

		expired, err := sweeper.New(a.ledger, sweeper.WithLogger(log)).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d subscription(s)\n", expired)
		return nil
	},
}
