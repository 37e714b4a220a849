package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openmartlabs/openmart-backend/api/controllers"
	"github.com/openmartlabs/openmart-backend/api/routes"
	"github.com/openmartlabs/openmart-backend/internal/cart"
	"github.com/openmartlabs/openmart-backend/internal/catalog"
	"github.com/openmartlabs/openmart-backend/internal/checkout"
	"github.com/openmartlabs/openmart-backend/internal/idempotency"
	"github.com/openmartlabs/openmart-backend/internal/inventory"
	"github.com/openmartlabs/openmart-backend/internal/notifications"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	promRegistry := prometheus.NewRegistry()
	checkoutMetrics := metrics.NewCheckoutMetrics(promRegistry)

	registry, err := buildProviderRegistry(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment providers", err)
		os.Exit(1)
	}

	coordinator, err := idempotency.NewCoordinator(redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency coordinator", err)
		os.Exit(1)
	}

	ledger := inventory.NewLedger()
	cartRepo := cart.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersService, err := orders.NewService(orders.ServiceParams{
		Repo:              ordersRepo,
		TransactionRunner: dbClient,
		Ledger:            ledger,
		Providers:         registry,
		Outbox:            outboxService,
		Idempotency:       coordinator,
		Metrics:           checkoutMetrics,
		Config:            cfg.Checkout,
		Payments:          cfg.Payments,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cartRepo, dbClient, catalogRepo, ledger, dbClient.DB(), cfg.Checkout)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		CartRepo:          cartRepo,
		CatalogRepo:       catalogRepo,
		OrdersRepo:        ordersRepo,
		Orders:            ordersService,
		Ledger:            ledger,
		Providers:         registry,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Idempotency:       coordinator,
		Metrics:           checkoutMetrics,
		Config:            cfg.Checkout,
		Payments:          cfg.Payments,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config: cfg,
			Logger: logg,
			HealthDeps: map[string]controllers.Pinger{
				"database": dbClient,
				"redis":    redisClient,
			},
			Redis:         redisClient,
			Coordinator:   coordinator,
			CartService:   cartService,
			Checkout:      checkoutService,
			Orders:        ordersService,
			Notifications: notificationsService,
			PromRegistry:  promRegistry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildProviderRegistry registers COD unconditionally and the online
// gateways only when their credentials are configured.
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
