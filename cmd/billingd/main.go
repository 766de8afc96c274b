package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/internal/db/migrations"
	"github.com/dmitrymomot/billingkit/internal/storage/postgres"
	"github.com/dmitrymomot/billingkit/modules/payments"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/ingest"
	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/plans"
	"github.com/dmitrymomot/billingkit/pkg/provider"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/seats"
)

type appConfig struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	PlansPath string `env:"PLANS_PATH" envDefault:"plans.yaml"`

	SweepInterval   time.Duration `env:"WEBHOOK_SWEEP_INTERVAL" envDefault:"1m"`
	RecheckInterval time.Duration `env:"PAST_DUE_RECHECK_INTERVAL" envDefault:"1h"`
}

func main() {
	if err := run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("billingd exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.AppEnv, "billingd"))
	logger.SetAsDefault(log)

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
		return err
	}

	registry, err := buildRegistry(log)
	if err != nil {
		return err
	}

	subStore := postgres.NewSubscriptionStore(pool)
	invStore := postgres.NewInvoiceStore(pool)
	pmStore := postgres.NewPaymentMethodStore(pool)
	evStore := postgres.NewEventStore(pool)

	// Seat usage is owned by the host application's membership system.
	// The standalone daemon only enforces the plan ceiling and the
	// requested minimum, so the counter reports zero seats in use.
	seatMgr := seats.NewManager(func(ctx context.Context, orgID uuid.UUID) (int, error) {
		return 0, nil
	})

	manager, err := lifecycle.NewManager(ctx,
		plans.YAMLSource{Path: cfg.PlansPath},
		registry,
		seatMgr,
		lifecycle.Stores{
			Subscriptions:  subStore,
			Invoices:       invStore,
			PaymentMethods: pmStore,
		},
		lifecycle.WithLogger(log),
	)
	if err != nil {
		return err
	}

	ingestOpts := []ingest.ServiceOption{ingest.WithServiceLogger(log)}
	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		ingestOpts = append(ingestOpts, ingest.WithDeduper(ingest.NewDeduper(client)))
		log.InfoContext(ctx, "redis duplicate fast path enabled")
	}

	intake := ingest.NewService(registry, evStore, manager, ingestOpts...)
	sweeper := ingest.NewSweeper(evStore, manager, ingest.WithSweeperLogger(log))

	module := payments.NewService(manager, intake, registry, payments.WithLogger(log))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/health", httpserver.HealthCheckHandler(ctx, log, pg.Healthcheck(pool)))
	router.Mount("/payments", module.Router())

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, router) })
	g.Go(sweeper.Run(ctx, cfg.SweepInterval))
	g.Go(manager.RunRecheck(ctx, cfg.RecheckInterval))

	log.InfoContext(ctx, "billingd started",
		slog.String("env", cfg.AppEnv),
		slog.Any("providers", registry.Names()))

	return g.Wait()
}

// buildRegistry registers every provider whose credentials are configured.
func buildRegistry(log *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	var stripeCfg provider.StripeConfig
	config.MustLoad(&stripeCfg)
	if stripeCfg.APIKey != "" {
		adapter, err := provider.NewStripeAdapter(stripeCfg)
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	var paddleCfg provider.PaddleConfig
	config.MustLoad(&paddleCfg)
	if paddleCfg.APIKey != "" {
		adapter, err := provider.NewPaddleAdapter(paddleCfg)
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	var lemonCfg provider.LemonSqueezyConfig
	config.MustLoad(&lemonCfg)
	if lemonCfg.APIKey != "" {
		adapter, err := provider.NewLemonSqueezyAdapter(lemonCfg)
		if err != nil {
			return nil, err
		}
		registry.Register(adapter)
	}

	if len(registry.Names()) == 0 {
		return nil, errors.New("no payment provider configured, set at least one provider's API key")
	}
	return registry, nil
}
