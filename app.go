package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leverage-core/internal/api"
	"leverage-core/internal/balance"
	"leverage-core/internal/coordinator"
	"leverage-core/internal/engine"
	"leverage-core/internal/events"
	"leverage-core/internal/exchange"
	"leverage-core/internal/monitor"
	"leverage-core/internal/notification/discord"
	"leverage-core/internal/persistence"
	"leverage-core/internal/risk"
	"leverage-core/internal/strategy"
	"leverage-core/pkg/config"
	"leverage-core/pkg/db"
	"leverage-core/pkg/errors"
)

// app is the fully wired process.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	coord    *coordinator.Coordinator
	engine   *engine.Engine
	risk     *risk.Manager
	balances *balance.Manager
	monitor  *monitor.Monitor
	database *db.Database
	writer   *persistence.BatchWriter
	recorder *persistence.Recorder
	server   *api.Server
}

// buildApp wires every component from cfg. limitsPath and strategiesPath are optional
// YAML overlays.
func buildApp(cfg *config.Config, limitsPath, strategiesPath string, log *zap.Logger) (*app, error) {
	limits, err := config.LoadRiskLimits(limitsPath, cfg.Risk)
	if err != nil {
		return nil, err
	}

	if strategiesPath == "" {
		strategiesPath = cfg.Trading.StrategyFile
	}
	defs, strat, err := loadStrategy(cfg, strategiesPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		bus:     events.NewBus(),
		metrics: monitor.NewSystemMetrics(),
	}

	exchanges := exchange.NewManager(log)
	primary, err := exchange.New(exchange.Kind(cfg.Exchange.Kind), exchange.Config{
		Name:              cfg.Exchange.Name,
		InitialBalance:    cfg.Trading.InitialBalance,
		Seed:              cfg.Exchange.MockSeed,
		Latency:           cfg.Execution.SimLatency,
		FillRate:          cfg.Execution.SimSuccessRate,
		APIKey:            cfg.Exchange.APIKey,
		APISecret:         cfg.Exchange.APISecret,
		Testnet:           cfg.Exchange.Testnet,
		BaseURL:           cfg.Exchange.BaseURL,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Timeout:           cfg.Exchange.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	exchanges.Add(cfg.Exchange.Name, primary, true)

	var executor engine.Executor
	switch cfg.Execution.Mode {
	case "exchange":
		executor = engine.NewExchangeExecutor(primary, log)
	default:
		executor = engine.NewSimulatedExecutor(engine.SimConfig{
			Latency:     cfg.Execution.SimLatency,
			SuccessRate: cfg.Execution.SimSuccessRate,
			FeeRate:     cfg.Execution.SimFeeRate,
			Seed:        cfg.Exchange.MockSeed,
		})
	}

	engCfg := engine.DefaultConfig()
	engCfg.InitialBalance = cfg.Trading.InitialBalance
	engCfg.MaxSlippage = cfg.Execution.MaxSlippage
	engCfg.OrderTimeout = cfg.Execution.OrderTimeout
	engCfg.MinOrderSize = cfg.Execution.MinOrderSize
	engCfg.PricePrecision = cfg.Execution.PricePrecision
	engCfg.QuantityPrecision = cfg.Execution.QuantityPrecision
	engCfg.DefaultSellRatio = cfg.Execution.DefaultSellRatio
	engCfg.Limits = engine.Limits{
		MaxPositionSize:  limits.MaxPositionSize,
		MaxLeverageUsage: limits.MaxLeverageUsage,
		MaxDailyLoss:     limits.DailyLossLimit,
		MaxDrawdown:      limits.MaxDrawdown,
	}
	a.engine = engine.New(strat, executor, engCfg, log, engine.WithBus(a.bus))
	a.risk = risk.NewManager(limits, log)

	var opts []coordinator.Option
	if cfg.DB.Enabled {
		if err := a.openStore(defs); err != nil {
			return nil, err
		}
		opts = append(opts, coordinator.WithSessionHook(a.recorder.RecordSession))
	}

	a.coord, err = coordinator.New(coordinator.Registry{
		Exchanges: exchanges,
		Strategy:  strat,
		Engine:    a.engine,
		Risk:      a.risk,
		Bus:       a.bus,
		Metrics:   a.metrics,
	}, coordinator.Config{
		Symbol:          cfg.Trading.Symbol,
		UpdateInterval:  cfg.Trading.UpdateInterval,
		PriceHistoryCap: cfg.Trading.PriceHistoryCap,
		MinHistory:      cfg.Trading.MinHistory,
		CandleBand:      cfg.Trading.CandleBand,
	}, log, opts...)
	if err != nil {
		a.close()
		return nil, err
	}

	sinks := []monitor.AlertSink{monitor.LogSink{Log: log.Named("alerts")}}
	if cfg.Discord.Enabled {
		sinks = append(sinks, discord.NewClient(cfg.Discord.WebhookURL, log))
	}
	a.monitor = &monitor.Monitor{
		Bus:      a.bus,
		Sinks:    sinks,
		MinLevel: risk.RiskLevel(cfg.Discord.MinLevel),
		Metrics:  a.metrics,
		Log:      log,
	}

	a.balances = balance.NewManager(exchanges, 30*time.Second, log)

	if cfg.API.Enabled {
		deps := api.Deps{
			Coordinator: a.coord,
			Engine:      a.engine,
			Risk:        a.risk,
			Balances:    a.balances,
			Metrics:     a.metrics,
		}
		if a.database != nil {
			deps.Queries = a.database.Queries()
		}
		a.server, err = api.NewServer(deps, api.Options{
			JWTSecret: cfg.API.JWTSecret,
			RateLimit: cfg.API.RateLimit,
			RateBurst: cfg.API.RateBurst,
			Version:   version,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// loadStrategy builds the active strategy from the definitions file, or from the
// trading config when no file is given.
func loadStrategy(cfg *config.Config, path string) ([]strategy.Definition, strategy.Strategy, error) {
	if path != "" {
		defs, err := strategy.LoadDefinitions(path)
		if err != nil {
			return nil, nil, err
		}
		active, ok := strategy.Active(defs)
		if !ok {
			return nil, nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "%s has no active strategy", path)
		}
		strat, err := strategy.Build(active)
		return defs, strat, err
	}

	settings := strategy.DefaultSettings(cfg.Trading.Symbol)
	settings.MaxLeverage = cfg.Trading.MaxLeverage
	settings.DynamicLeverage = cfg.Trading.DynamicLeverage
	settings.PositionFraction = cfg.Trading.PositionSize
	settings.StopLoss = cfg.Risk.DefaultStopLoss
	settings.TakeProfit = cfg.Risk.DefaultTakeProfit
	settings.SellRatio = cfg.Execution.DefaultSellRatio
	def := strategy.Definition{
		ID:       cfg.Trading.Strategy,
		Kind:     strategy.Kind(cfg.Trading.Strategy),
		Settings: settings,
		IsActive: true,
	}
	strat, err := strategy.Build(def)
	return []strategy.Definition{def}, strat, err
}

func (a *app) openStore(defs []strategy.Definition) error {
	database, err := db.New(a.cfg.DB.Path)
	if err != nil {
		return err
	}
	if err := db.ApplyMigrations(database); err != nil {
		database.Close()
		return err
	}
	if err := strategy.SyncDefinitionsToDB(database.DB, defs); err != nil {
		a.log.Warn("strategy definitions not synced", zap.Error(err))
	}
	a.database = database
	a.writer = persistence.NewBatchWriter(database.DB, a.cfg.DB.BatchSize, a.cfg.DB.FlushInterval, a.log,
		persistence.WithLatency(a.metrics.DBLatency))
	a.recorder = persistence.NewRecorder(a.writer, persistence.RecorderConfig{
		Symbol: a.cfg.Trading.Symbol,
		Strategy: func() string {
			if s := a.engine.Strategy(); s != nil {
				return s.Name()
			}
			return ""
		},
	}, a.log)
	return nil
}

// run starts the background workers, opens a trading session and serves the API until
// ctx is done. The session is always stopped before run returns.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	a.monitor.Start(ctx)
	a.balances.Start(ctx)
	if a.recorder != nil {
		a.recorder.Attach(ctx, a.bus)
		go a.recorder.RunSnapshots(ctx, a.risk)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(gctx, ":"+a.cfg.API.Port)
		})
	}
	g.Go(func() error {
		return a.coord.Session(gctx, func(ctx context.Context) error {
			a.log.Info("trading session running",
				zap.String("symbol", a.cfg.Trading.Symbol),
				zap.String("session_id", a.coord.Status().SessionID))
			<-ctx.Done()
			return nil
		})
	})
	return g.Wait()
}

func (a *app) close() {
	if a.writer != nil {
		_ = a.writer.Close()
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Warn("close database", zap.Error(err))
		}
	}
}
