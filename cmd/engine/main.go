// Cross-venue binary-market arbitrage execution engine.
//
// Architecture:
//
//	main.go                   — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/venue/venuea     — Venue-A gateway: REST orders/status/cancel, bearer auth, on-chain fill tail
//	internal/venue/venueb     — Venue-B gateway: REST orders/status/cancel/positions, multiplexed book WS
//	internal/obcache          — process-wide Orderbook Cache with WS/REST freshness tiers
//	internal/fillagg          — per-order Fill Aggregator joining block events and REST polls
//	internal/guard            — Cost/Price Guard, latched validity with a ghost-depth detector
//	internal/executor         — Task Executor: one state machine per active arbitrage task
//	internal/registry         — Task Registry: owns active tasks, fans out state changes
//	internal/scanner          — Opportunity Scanner: ranks cross-venue pairs by profit/depth
//	internal/logsink          — Log Sink: bounded event queue, append-only logs, latency histograms
//
// How it makes money:
//
//	A binary market's YES and NO legs, priced on two different venues, should
//	sum to $1 plus fees. When predictLeg + hedgeLeg + fee < $1, buying both
//	legs locks in the difference as riskless profit; the engine detects that
//	gap, places the predict leg first, then chases the hedge leg as fills
//	arrive, tearing down safely if the opportunity evaporates mid-flight.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"arb-engine/internal/config"
	"arb-engine/internal/executor"
	"arb-engine/internal/logsink"
	"arb-engine/internal/obcache"
	"arb-engine/internal/registry"
	"arb-engine/internal/scanner"
	"arb-engine/internal/venue/venuea"
	"arb-engine/internal/venue/venueb"
	"arb-engine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	auth, err := venuea.NewAuth(cfg.Wallet.PrivateKey, cfg.Wallet.FunderAddress, cfg.Wallet.ChainID,
		types.SignatureType(cfg.Wallet.SignatureType), time.Duration(cfg.Wallet.JWTSlackMs)*time.Millisecond)
	if err != nil {
		logger.Error("failed to build signer", "error", err)
		os.Exit(1)
	}

	venueAClient := venuea.NewClient(cfg.API.VenueABaseURL, auth, cfg.API.VenueAAPIKey, cfg.DryRun, logger)
	venueBClient := venueb.NewClient(cfg.API.VenueBBaseURL, auth, cfg.API.VenueBAPIKey, cfg.DryRun, logger)

	contracts := make([]common.Address, 0, len(cfg.API.VenueAContracts))
	for _, addr := range cfg.API.VenueAContracts {
		contracts = append(contracts, common.HexToAddress(addr))
	}
	fillSub := venuea.NewFillSubscriber(cfg.API.VenueAWSRPCURL, contracts, logger)
	feed := venueb.NewFeed(cfg.API.VenueBWSURL, logger)

	cache := obcache.New(obcache.Thresholds{
		Fresh:    time.Duration(cfg.Orderbook.FreshMs) * time.Millisecond,
		Stale:    time.Duration(cfg.Orderbook.StaleMs) * time.Millisecond,
		MaxStale: time.Duration(cfg.Orderbook.MaxStaleMs) * time.Millisecond,
	})

	sink, err := logsink.New(logsink.Config{
		BaseDir:           cfg.LogSink.BaseDir,
		QueueMaxSize:      cfg.LogSink.QueueMaxSize,
		FlushInterval:     time.Duration(cfg.LogSink.FlushIntervalMs) * time.Millisecond,
		RetentionDays:     cfg.LogSink.RetentionDays,
		RetentionInterval: 24 * time.Hour,
	}, logger)
	if err != nil {
		logger.Error("failed to create log sink", "error", err)
		os.Exit(1)
	}

	reg := registry.New(logger)

	scannerCfg := scanner.Config{
		PollInterval:    time.Duration(cfg.Scanner.PollIntervalMs) * time.Millisecond,
		MinProfitPct:    decimalFromFloat(cfg.Scanner.MinProfitPct),
		MinDepth:        decimalFromFloat(cfg.Scanner.MinDepth),
		MaxResultsQueue: 1,
	}
	pairings := make([]scanner.Pairing, 0, len(cfg.Scanner.Pairings))
	for _, p := range cfg.Scanner.Pairings {
		pairings = append(pairings, scanner.Pairing{
			VenueAMarketID: p.VenueAMarketID,
			VenueBYesToken: p.VenueBYesToken,
			VenueBNoToken:  p.VenueBNoToken,
			Inverted:       p.Inverted,
		})
	}
	sc := scanner.New(scannerCfg, pairings, venueAClient, venueBClient, cache, logger)

	ctx, cancel := context.WithCancel(context.Background())

	sinkDone := make(chan struct{})
	go sink.Run(sinkDone)
	go fillSub.Run(ctx)
	go feed.Run(ctx)
	go sc.Run(ctx)
	go bookUpdateBridge(ctx, feed, cache)
	go fillEventBridge(ctx, fillSub.Events(), logger)

	execSettings := executor.Settings{
		OrderTimeout:          cfg.Executor.OrderTimeout(),
		PollInterval:          cfg.Executor.PollInterval(),
		MinHedgeShares:        decimalFromFloat(cfg.Executor.MinHedgeShares),
		MinHedgeNotionalUSD:   decimalFromFloat(cfg.Executor.MinHedgeNotionalUSD),
		CostCheckThrottle:     cfg.Executor.CostCheckThrottle(),
		MaxHedgeRetries:       cfg.Executor.MaxHedgeRetries,
		LossHedgeMaxDeviation: decimalFromFloat(cfg.Executor.LossHedgeMaxDeviation),
		LossHedgeMaxWait:      cfg.Executor.LossHedgeMaxWait(),
		FirstStatusTimeout:    15 * time.Second,
		CancelTimeout:         5 * time.Second,
	}

	deps := executor.Deps{
		VenueA:   venueAClient,
		VenueB:   venueBClient,
		Feed:     feed,
		Cache:    cache,
		Sink:     sink,
		Settings: execSettings,
		Logger:   logger,
	}

	go autoTrade(ctx, sc, reg, deps, logger)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("arbitrage engine started", "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	close(sinkDone)
}

// autoTrade reads ranked opportunities off the scanner and creates a task
// for every opportunity whose market has not already had a task created by
// this loop; a market, once used, is never released. This is a minimal
// policy standing in for whatever operator-facing control
// surface would otherwise gate task creation (out of scope here, spec §1
// Non-goals).
func autoTrade(ctx context.Context, sc *scanner.Scanner, reg *registry.Registry, deps executor.Deps, logger *slog.Logger) {
	open := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case opps := <-sc.Results():
			for _, opp := range opps {
				if open[opp.VenueAMarketID] {
					continue
				}
				cfg := taskConfigFromOpportunity(opp)
				reg.Create(ctx, cfg, deps)
				open[opp.VenueAMarketID] = true
				logger.Info("auto-created task from opportunity", "market", opp.VenueAMarketID, "score", opp.Score)
			}
		}
	}
}

func taskConfigFromOpportunity(opp types.Opportunity) types.TaskConfig {
	one := decimalFromFloat(1.0)
	return types.TaskConfig{
		ID:             generateTaskID(),
		Direction:      types.BUY,
		Side:           types.YES,
		VenueAMarketID: opp.VenueAMarketID,
		YesTokenID:     opp.YesTokenID,
		NoTokenID:      opp.NoTokenID,
		Inverted:       opp.Inverted,
		LimitPrice:     opp.PredictTopPrice,
		MaxHedgePrice:  opp.HedgeTopPrice,
		TargetQty:      opp.ProjectedDepth,
		FeeBps:         opp.FeeBps,
		TickSize:       opp.TickSize,
		NegRisk:        opp.NegRisk,
		Strategy:       types.StrategyTaker,
		MaxTotalCost:   one,
	}
}

func bookUpdateBridge(ctx context.Context, feed *venueb.Feed, cache *obcache.Cache) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-feed.Updates():
			if !ok {
				return
			}
			if !upd.Stale {
				cache.PutWS(obcache.Key{Venue: "venueb", ID: upd.TokenID}, upd.Book)
			}
		}
	}
}

func fillEventBridge(ctx context.Context, events <-chan types.BlockFillEvent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			logger.Debug("block fill event observed", "orderHash", evt.OrderHash, "tx", evt.TxHash)
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
