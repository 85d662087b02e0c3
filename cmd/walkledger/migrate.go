package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pawtrail/walkledger/migrations"
	"github.com/pawtrail/walkledger/pkg/config"
	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/ledger/pgstore"
	"github.com/pawtrail/walkledger/pkg/logger"
	"github.com/pawtrail/walkledger/pkg/pg"
)

var seedPlansFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and optionally seed the plan catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		log := newLogger(cfg).With(logger.Component("migrate"))

		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
			return err
		}
		if seedPlansFile == "" {
			return nil
		}

		// Loading through a catalog validates the plans and fills defaults.
		catalog, err := ledger.NewCatalog(ctx, ledger.NewYAMLSource(seedPlansFile))
		if err != nil {
			return err
		}
		plans, err := catalog.List(ctx)
		if err != nil {
			return err
		}
		if err := pgstore.NewPlanSource(pool).Upsert(ctx, plans...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d plan(s) from %s\n", len(plans), seedPlansFile)
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&seedPlansFile, "seed", "", "YAML plans file to upsert into the plans table")
}
