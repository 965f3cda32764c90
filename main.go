package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"fxCopyDesk/config"
	"fxCopyDesk/internal/adapters/binanceclient"
	"fxCopyDesk/internal/adapters/logger"
	"fxCopyDesk/internal/adapters/quotecache"
	"fxCopyDesk/internal/adapters/sqlite"
	"fxCopyDesk/internal/credit"
	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/engine"
	"fxCopyDesk/internal/locks"
	"fxCopyDesk/internal/ports"
	"fxCopyDesk/internal/pricing"
	"fxCopyDesk/internal/replication"
	"fxCopyDesk/internal/worker"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Pricing Gateway (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 5. Initialize Quote Cache (Redis when configured, in-process otherwise)
	var cache ports.QuoteCache
	if cfg.RedisAddr != "" {
		redisCache, err := quotecache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.QuoteTTL)
		if err != nil {
			log.Fatalf("FATAL: Failed to connect to Redis quote cache: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
		appLogger.Info(ctx, "Redis quote cache initialized", map[string]interface{}{"addr": cfg.RedisAddr})
	} else {
		cache = quotecache.NewMemory(cfg.QuoteTTL)
	}

	quoteSvc, err := engine.NewQuoteService(binanceClient, cache, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize quote service: %v", err)
	}

	// 6. Initialize Engines and Services
	locker := locks.NewAccountLocker()

	lifecycle, err := engine.New(engine.Config{
		SpreadValue:          cfg.SpreadValue,
		SpreadType:           cfg.SpreadType,
		OpenCommissionPerLot: cfg.OpenCommissionPerLot,
		CommissionOnClose:    cfg.CommissionOnClose,
		StopOutLevel:         cfg.StopOutLevel,
	}, appLogger, quoteSvc, repo, repo, repo, repo, locker)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize lifecycle engine: %v", err)
	}

	creditSvc, err := credit.New(credit.Config{
		CommissionPct:        cfg.CommissionPct,
		AdminSharePct:        cfg.AdminSharePct,
		DefaultMinimumCredit: cfg.DefaultMinimumCredit,
	}, appLogger, repo, repo, repo, repo, repo, locker)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize credit service: %v", err)
	}

	replicator, err := replication.New(replication.Config{MaxConcurrency: cfg.MaxReplication},
		appLogger, lifecycle, creditSvc, quoteSvc, repo, repo, repo, locker)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize replication engine: %v", err)
	}

	// 7. Background Jobs
	dispatcher := worker.NewDispatcher(ctx, appLogger)
	defer dispatcher.Shutdown()

	// Lifecycle hooks fire outside account locks; each master event becomes a
	// background job. Open and close are keyed by the trade, so a re-fired
	// event while the first fan-out still runs is dropped instead of
	// duplicated (both fan-outs are idempotent). Modify events each get their
	// own job: the mirror re-reads the current SL/TP at execution, so running
	// every event just guarantees the newest levels are never lost.
	var modifySeq atomic.Int64
	lifecycle.OnTradeOpened(func(_ context.Context, t *domain.Trade) {
		dispatchFanOut(dispatcher, appLogger, fmt.Sprintf("replicate-open-%d", t.ID), t, replicator.ReplicateOpen)
	})
	lifecycle.OnTradeClosed(func(_ context.Context, t *domain.Trade) {
		dispatchFanOut(dispatcher, appLogger, fmt.Sprintf("replicate-close-%d", t.ID), t, replicator.ReplicateClose)
	})
	lifecycle.OnTradeModified(func(_ context.Context, t *domain.Trade) {
		dispatchFanOut(dispatcher, appLogger, fmt.Sprintf("mirror-modify-%d-%d", t.ID, modifySeq.Add(1)), t, replicator.MirrorModify)
	})
	// Follower-side closes of copy trades (SL/TP hit, stop-out) route their
	// PnL to the credit service through the same job surface.
	lifecycle.OnCopyTradeClosed(func(_ context.Context, t *domain.Trade) {
		dispatchFanOut(dispatcher, appLogger, fmt.Sprintf("settle-copy-close-%d", t.ID), t, replicator.HandleFollowerClose)
	})

	if err := dispatcher.Every("commission-settlement", cfg.SettlementInterval, func(jobCtx context.Context) error {
		creditSvc.SettlePendingCommissions(jobCtx, 100)
		return nil
	}); err != nil {
		log.Fatalf("FATAL: Failed to schedule commission settlement: %v", err)
	}

	// Fallback for trades whose per-close distribution failed.
	if err := dispatcher.Every("distribution-reconciliation", cfg.SettlementInterval, func(jobCtx context.Context) error {
		replicator.SettleUnsettled(jobCtx, 100)
		return nil
	}); err != nil {
		log.Fatalf("FATAL: Failed to schedule distribution reconciliation: %v", err)
	}

	appLogger.Info(ctx, "Back office started", map[string]interface{}{
		"tickInterval": cfg.TickInterval.String(), "stopOutLevel": cfg.StopOutLevel, "commissionPct": cfg.CommissionPct,
	})

	// 8. Tick Loop
	runTickLoop(ctx, cfg.TickInterval, appLogger, lifecycle, quoteSvc, repo)

	appLogger.Info(context.Background(), "Shutdown complete")
}

// dispatchFanOut hands a master trade event to the background dispatcher.
func dispatchFanOut(d *worker.Dispatcher, l ports.Logger, name string, t *domain.Trade, fn func(context.Context, *domain.Trade) []replication.FollowerResult) {
	if !t.IsOpen() && t.Status != domain.StatusClosed {
		return
	}
	if err := d.Dispatch(name, func(jobCtx context.Context) error {
		fn(jobCtx, t)
		return nil
	}); err != nil && err != worker.ErrJobRunning {
		l.Error(context.Background(), err, "Failed to dispatch replication job", map[string]interface{}{"job": name})
	}
}

// runTickLoop drives pending triggers, SL/TP checks and stop-out monitoring
// from fresh quotes until the context is cancelled.
func runTickLoop(ctx context.Context, interval time.Duration, l ports.Logger,
	lifecycle *engine.Engine, quotes ports.PricingGateway, trades ports.TradeRepository) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			symbols, err := trades.ActiveSymbols(ctx)
			if err != nil {
				l.Error(ctx, err, "Tick: Failed to list active symbols")
				continue
			}
			for _, symbol := range symbols {
				if !pricing.IsMarketOpen(symbol, time.Now()) {
					continue
				}
				q, err := quotes.Quote(ctx, symbol)
				if err != nil {
					l.Warn(ctx, "Tick: Quote unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
					continue
				}
				lifecycle.ProcessTick(ctx, q)
			}
			lifecycle.MonitorStopOuts(ctx)
		}
	}
}
