package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openmartlabs/openmart-backend/internal/cron"
	"github.com/openmartlabs/openmart-backend/internal/inventory"
	"github.com/openmartlabs/openmart-backend/internal/orders"
	"github.com/openmartlabs/openmart-backend/internal/payments"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/db"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	"github.com/openmartlabs/openmart-backend/pkg/metrics"
	"github.com/openmartlabs/openmart-backend/pkg/migrate"
	"github.com/openmartlabs/openmart-backend/pkg/outbox"
	"github.com/openmartlabs/openmart-backend/pkg/redis"
)

const lockKeyFormat = "om:sweeper:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sweeper",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildProviderRegistry(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment providers", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:              ordersRepo,
		TransactionRunner: dbClient,
		Ledger:            inventory.NewLedger(),
		Providers:         registry,
		Outbox:            outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Config:            cfg.Checkout,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	sweeperJob, err := cron.NewReservationSweeperJob(cron.ReservationSweeperJobParams{
		Logger:  logg,
		Reader:  ordersRepo,
		Orders:  ordersService,
		Metrics: cronMetrics,
		Batch:   cfg.Sweeper.Batch,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation sweeper job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sweeper.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweeperJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
	})
	logg.Info(ctx, "starting reservation sweeper")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweeper shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

func buildProviderRegistry(cfg *config.Config) (*payments.Registry, error) {
	providers := []payments.Provider{payments.NewCODProvider()}

	if strings.TrimSpace(cfg.Payments.Hosted.BaseURL) != "" {
		returnLeg := strings.TrimRight(cfg.App.PublicBaseURL, "/") + "/payments/return/hosted"
		hosted, err := payments.NewHostedProvider(cfg.Payments.Hosted, returnLeg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, hosted)
	}

	if strings.TrimSpace(cfg.Payments.Capture.BaseURL) != "" {
		capture, err := payments.NewCaptureProvider(cfg.Payments.Capture)
		if err != nil {
			return nil, err
		}
		providers = append(providers, capture)
	}

	return payments.NewRegistry(providers...)
}
