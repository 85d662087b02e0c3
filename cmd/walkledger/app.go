package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pawtrail/walkledger/migrations"
	"github.com/pawtrail/walkledger/pkg/config"
	"github.com/pawtrail/walkledger/pkg/events"
	"github.com/pawtrail/walkledger/pkg/httpserver"
	"github.com/pawtrail/walkledger/pkg/idempotency"
	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/ledger/pgstore"
	"github.com/pawtrail/walkledger/pkg/logger"
	"github.com/pawtrail/walkledger/pkg/metrics"
	"github.com/pawtrail/walkledger/pkg/pg"
	"github.com/pawtrail/walkledger/pkg/ratelimit"
	"github.com/pawtrail/walkledger/pkg/redis"
)

const webhookDrainTimeout = 15 * time.Second

// app holds the wired ledger and everything that must be released on exit.
type app struct {
	cfg       appConfig
	log       *slog.Logger
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter // nil when rate limiting is disabled
	trustIP   bool
	readiness []httpserver.Check
	closers   []func()
}

// newApp connects the configured backends and builds the ledger.
// On error every backend opened so far is closed.
func newApp(ctx context.Context, cfg appConfig, log *slog.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New(reg)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var (
		store ledger.Store
		pool  pgstore.DB
	)
	switch cfg.Store {
	case storeMemory:
		log.WarnContext(ctx, "using in-memory store, subscriptions are lost on restart")
		store = ledger.NewMemoryStore()
	default:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, err
		}
		p, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		a.readiness = append(a.readiness, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(p)})

		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, p, migrations.FS, pgCfg, log.With(logger.Component("migrate"))); err != nil {
				return nil, err
			}
		}
		pool = p
		store = pgstore.New(p)
	}

	var source ledger.PlanSource
	switch cfg.PlansSource {
	case plansFromDB:
		source = pgstore.NewPlanSource(pool)
	default:
		source = ledger.NewYAMLSource(cfg.PlansFile)
	}
	catalog, err := ledger.NewCatalog(ctx, source)
	if err != nil {
		return nil, err
	}

	gateway, err := newGateway(cfg.Gateway)
	if err != nil {
		return nil, err
	}

	opts := []ledger.Option{
		ledger.WithLogger(log.With(logger.Component("ledger"))),
		ledger.WithEventPublisher(a.metrics),
	}

	var rateStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.Dedupe == dedupeRedis {
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.readiness = append(a.readiness, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		opts = append(opts, ledger.WithDeduplicator(
			idempotency.NewRedisDeduplicator(client, idempotency.WithTTL(cfg.DedupeTTL)),
		))
		rateStore = ratelimit.NewRedisStore(client, cfg.ServiceName+":ratelimit:")
	}

	var rateCfg ratelimit.Config
	if err := config.Load(&rateCfg); err != nil {
		return nil, err
	}
	if rateCfg.Enabled() {
		if a.limiter, err = ratelimit.New(rateStore, rateCfg.Requests, rateCfg.Window); err != nil {
			return nil, err
		}
		a.trustIP = rateCfg.TrustProxy
	}

	publishers, err := a.eventPublishers(ctx)
	if err != nil {
		return nil, err
	}
	for i, p := range publishers {
		publishers[i] = events.WithTimeout(p, cfg.EventTimeout)
	}
	opts = append(opts, ledger.WithEventPublisher(ledger.MultiPublisher(publishers...)))

	a.ledger = ledger.New(catalog, store, gateway, opts...)
	return a, nil
}

// eventPublishers returns the AMQP publisher, or a log publisher without a
// broker, plus the outbound webhook when one is configured.
func (a *app) eventPublishers(ctx context.Context) ([]ledger.EventPublisher, error) {
	log := a.log.With(logger.Component("events"))

	var amqpCfg events.Config
	if err := config.Load(&amqpCfg); err != nil {
		return nil, err
	}
	var webhookCfg events.WebhookConfig
	if err := config.Load(&webhookCfg); err != nil {
		return nil, err
	}

	var publishers []ledger.EventPublisher
	if amqpCfg.Enabled() {
		p, err := events.NewAMQPPublisher(amqpCfg, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := p.Close(); err != nil {
				log.Error("failed to close event publisher", logger.Error(err))
			}
		})
		publishers = append(publishers, p)
	} else {
		log.InfoContext(ctx, "AMQP_URL not set, ledger events are only logged")
		publishers = append(publishers, events.NewLogPublisher(log))
	}

	if webhookCfg.Enabled() {
		p, err := events.NewWebhookPublisher(webhookCfg, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), webhookDrainTimeout)
			defer cancel()
			if err := p.Close(ctx); err != nil {
				log.Error("event webhook queue not drained", logger.Error(err))
			}
		})
		publishers = append(publishers, p)
	}
	return publishers, nil
}

func newGateway(name string) (ledger.PaymentGateway, error) {
	switch name {
	case gatewayPaddle:
		var cfg ledger.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return ledger.NewPaddleGateway(cfg)
	case gatewayStripe:
		var cfg ledger.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return ledger.NewStripeGateway(cfg)
	case gatewayManual:
		return ledger.ManualGateway{}, nil
	default:
		return nil, errors.Join(errInvalidOption, fmt.Errorf("unknown payment gateway %q", name))
	}
}

// close releases backends in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
