package main

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/pawtrail/walkledger/pkg/config"
	"github.com/pawtrail/walkledger/pkg/logger"
	"github.com/pawtrail/walkledger/pkg/requestid"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"

	gatewayManual = "manual"
	gatewayPaddle = "paddle"
	gatewayStripe = "stripe"

	plansFromFile = "file"
	plansFromDB   = "db"

	dedupeRedis  = "redis"
	dedupeMemory = "memory"
)

var errInvalidOption = errors.New("invalid configuration option")

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"walkledger"`

	Store       string `env:"LEDGER_STORE" envDefault:"postgres"`
	AutoMigrate bool   `env:"PG_AUTO_MIGRATE" envDefault:"true"`

	Gateway     string `env:"PAYMENT_GATEWAY" envDefault:"manual"`
	PlansSource string `env:"PLANS_SOURCE" envDefault:"file"`
	PlansFile   string `env:"PLANS_FILE" envDefault:"plans.yaml"`

	Dedupe    string        `env:"DEDUPE_BACKEND" envDefault:"redis"`
	DedupeTTL time.Duration `env:"DEDUPE_TTL" envDefault:"72h"`

	SweepSchedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 15m"`
	SweepTimeout  time.Duration `env:"SWEEP_TIMEOUT" envDefault:"1m"`

	EventTimeout time.Duration `env:"EVENT_PUBLISH_TIMEOUT" envDefault:"5s"`

	AdminToken string `env:"ADMIN_TOKEN"`
}

func (c appConfig) validate() error {
	var errs []error
	check := func(name, value string, allowed ...string) {
		if slices.Contains(allowed, value) {
			return
		}
		errs = append(errs, fmt.Errorf("%w: %s=%q, want one of %v", errInvalidOption, name, value, allowed))
	}
	check("LEDGER_STORE", c.Store, storePostgres, storeMemory)
	check("PAYMENT_GATEWAY", c.Gateway, gatewayManual, gatewayPaddle, gatewayStripe)
	check("PLANS_SOURCE", c.PlansSource, plansFromFile, plansFromDB)
	check("DEDUPE_BACKEND", c.Dedupe, dedupeRedis, dedupeMemory)
	if c.PlansSource == plansFromDB && c.Store != storePostgres {
		errs = append(errs, fmt.Errorf("%w: PLANS_SOURCE=db requires LEDGER_STORE=postgres", errInvalidOption))
	}
	return errors.Join(errs...)
}

func loadAppConfig() (appConfig, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func newLogger(cfg appConfig) *slog.Logger {
	return logger.New(
		logger.WithEnvironment(cfg.Env, cfg.ServiceName),
		logger.WithContextExtractors(requestid.LogExtractor),
	)
}
