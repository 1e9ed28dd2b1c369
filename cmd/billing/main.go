// cmd/billing/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"quickbill/internal/billing"
	"quickbill/internal/clients"
	"quickbill/internal/platform/config"
	"quickbill/internal/platform/database"
	"quickbill/internal/platform/logging"
	"quickbill/internal/platform/server"
	"quickbill/internal/platform/telemetry"
)

func main() {
	cfg := config.Load("billing", "8082")
	logger := logging.Init(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	var (
		bills billing.Store
		ready func(context.Context) error
	)
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, bills are kept in memory")
		bills = billing.NewMemoryStore()
	} else {
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		bills = billing.NewPostgresStore(db, cfg.StoreTimeout)
		ready = db.PingContext
	}

	stockClient := clients.NewStockClient(cfg.CatalogURL, clients.Options{
		Timeout:         cfg.ClientTimeout,
		BreakerFailures: cfg.BreakerFailures,
		OpenPeriod:      cfg.BreakerOpenPeriod,
		Logger:          logger,
	})
	svc := billing.NewService(bills, stockClient, logger)

	router := server.NewRouter(logger, ready)
	billing.NewHandler(svc, logger).Mount(router)

	if err := server.Run(ctx, ":"+cfg.Port, router, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal().Err(err).Msg("billing service stopped")
	}
}
