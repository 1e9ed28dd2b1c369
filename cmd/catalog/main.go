// cmd/catalog/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"quickbill/internal/catalog"
	"quickbill/internal/platform/config"
	"quickbill/internal/platform/database"
	"quickbill/internal/platform/logging"
	"quickbill/internal/platform/server"
	"quickbill/internal/platform/telemetry"
	"quickbill/internal/stock"
)

func main() {
	cfg := config.Load("catalog", "8081")
	logger := logging.Init(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	store, ready, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	engine := stock.NewEngine(store, logger)

	router := server.NewRouter(logger, ready)
	catalog.NewHandler(store, logger).Mount(router)
	stock.NewHandler(engine, logger).Mount(router)

	if err := server.Run(ctx, ":"+cfg.Port, router, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal().Err(err).Msg("catalog service stopped")
	}
}

// openStore uses Postgres when DATABASE_URL is set and an in-memory catalog
// otherwise.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (catalog.Store, func(context.Context) error, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory catalog")
		return catalog.NewMemoryStore(), nil, func() {}
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	logger.Info().Msg("connected to postgres")
	return catalog.NewPostgresStore(db, cfg.StoreTimeout), db.PingContext, func() { db.Close() }
}
