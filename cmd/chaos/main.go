// cmd/chaos/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"quickbill/internal/catalog"
	"quickbill/internal/chaos"
	"quickbill/internal/platform/config"
	"quickbill/internal/platform/database"
	"quickbill/internal/platform/logging"
	"quickbill/internal/platform/telemetry"
	"quickbill/internal/stock"
)

func main() {
	cfg := config.Load("chaos", "")
	logger := logging.Init(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer shutdownTracing(context.Background())

	var store catalog.Store = catalog.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		store = catalog.NewPostgresStore(db, cfg.StoreTimeout)
		logger.Info().Msg("running experiments against postgres")
	}
	recorder := stock.NewEngine(store, logger)

	engine := chaos.NewEngine(logger)

	contention, err := chaos.Seed(ctx, store, "contention", 25)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	var sold atomic.Int64
	engine.Register(chaos.ContentionExperiment(contention, recorder, 100, &sold))

	flaky, err := chaos.Seed(ctx, store, "flaky", 100)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	flakyExp, err := chaos.FlakyStoreExperiment(flaky, chaos.NewFaultyStore(store, uint64(time.Now().UnixNano())), 60, logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	engine.Register(flakyExp)

	replay, err := chaos.Seed(ctx, store, "offline", 10)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	var rejected atomic.Int64
	replayExp, err := chaos.OfflineReplayExperiment(replay, recorder, 15, &rejected, logger)
	if err != nil {
		logger.Fatal().Err(err).Send()
	}
	engine.Register(replayExp)

	results, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Stock consistency game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("game day interrupted")
	}

	failed := 0
	for _, r := range results {
		if !r.HypothesisHeld {
			failed++
		}
	}
	logger.Info().
		Int("experiments", len(results)).
		Int("failed", failed).
		Int64("contention_sold", sold.Load()).
		Int64("offline_rejected", rejected.Load()).
		Msg("game day finished")
	if failed > 0 || len(results) != len(engine.Experiments()) {
		os.Exit(1)
	}
}
