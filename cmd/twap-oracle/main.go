package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tc.com/twap-oracle/pkg/chain"
	"tc.com/twap-oracle/pkg/config"
	"tc.com/twap-oracle/pkg/logging"
	"tc.com/twap-oracle/pkg/metrics"
	"tc.com/twap-oracle/pkg/oracle"
	"tc.com/twap-oracle/pkg/server"
	"tc.com/twap-oracle/pkg/server/api"
	"tc.com/twap-oracle/pkg/version"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("twap-oracle version %s\n", version.Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("Starting twap-oracle", "version", version.Version)

	// Initialize metrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server error", "error", err.Error())
			}
		}()
		logger.Info("Metrics server started", "addr", cfg.Metrics.Addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agg, cleanup, err := buildAggregator(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build oracle", "error", err.Error())
	}
	defer cleanup()

	// HTTP API
	httpServer := api.NewServer(cfg.Server.HTTP.Addr, agg, cfg.AdminTokenValue(), logger)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err.Error())
			cancel()
		}
	}()

	// Optional WebSocket streaming
	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(cfg.Server.WebSocket.Addr, agg, logger)
		go func() {
			if err := wsServer.Start(); err != nil {
				logger.Error("WebSocket server error", "error", err.Error())
			}
		}()
	}

	// Update cycle driver
	runner := server.NewRunner(agg, cfg.Server.UpdateInterval.ToDuration(), logger)
	go runner.Run(ctx)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err.Error())
	}
	if wsServer != nil {
		if err := wsServer.Stop(shutdownCtx); err != nil {
			logger.Error("WebSocket server shutdown error", "error", err.Error())
		}
	}

	logger.Info("Shutdown complete")
}

// buildAggregator wires the chain clients, store, and oracle core together.
// The returned cleanup closes every connection it opened.
func buildAggregator(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*oracle.Aggregator, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	feed, err := chain.NewChainlinkFeed(connectCtx, cfg.Primary.RPCURL, cfg.Primary.AggregatorAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("primary feed: %w", err)
	}

	pool, err := chain.NewUniswapV2Pool(connectCtx, cfg.Secondary.RPCURL, cfg.Secondary.PairAddress, cfg.Secondary.BaseTokenAddress, logger)
	if err != nil {
		feed.Close()
		return nil, nil, fmt.Errorf("secondary pool: %w", err)
	}

	var store oracle.Store
	var redisStore *oracle.RedisStore
	if cfg.Store.Backend == "redis" {
		redisStore, err = oracle.NewRedisStore(connectCtx, cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, cfg.Store.Redis.KeyPrefix)
		if err != nil {
			feed.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		store = redisStore
	} else {
		store = oracle.NewMemoryStore()
	}

	cleanup := func() {
		feed.Close()
		pool.Close()
		if redisStore != nil {
			_ = redisStore.Close()
		}
	}

	cursor, err := oracle.SeedCursor(connectCtx, feed, cfg.Oracle.StartRound)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	logger.Info("Seeded primary feed cursor",
		"round", cursor.Round,
		"updated_at", cursor.UpdatedAt)

	epochLength := cfg.Oracle.EpochLength.Seconds()
	maxDelay := cfg.Oracle.MaxObservationDelay.Seconds()

	primary := oracle.NewPrimaryReader(feed, cursor, epochLength, cfg.Oracle.MinPrimaryRounds, cfg.Oracle.MaxRoundsPerCycle, logger)
	secondary := oracle.NewSecondarySampler(pool, maxDelay, logger)

	startEpoch := cfg.Oracle.StartEpoch
	if startEpoch == 0 {
		startEpoch = oracle.AlignEpoch(uint64(time.Now().Unix()), epochLength)
	}

	agg, err := oracle.NewAggregator(primary, secondary, store, epochLength, maxDelay, startEpoch, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("Oracle initialized",
		"symbol", cfg.Oracle.Symbol,
		"epoch_length", epochLength,
		"start_epoch", startEpoch,
		"store", cfg.Store.Backend)
	return agg, cleanup, nil
}
