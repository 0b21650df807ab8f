package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"autopilot/internal/config"
	"autopilot/internal/execution"
	"autopilot/internal/feature"
	"autopilot/internal/ledger"
	"autopilot/internal/market"
	"autopilot/internal/monitor"
	"autopilot/internal/oracle"
	"autopilot/internal/profile"
	"autopilot/internal/risk"
	"autopilot/internal/scheduler"
	"autopilot/internal/store"
	"autopilot/internal/vault"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件并驱动调度循环，直到上下文取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("自动交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("market", a.cfg.Market.Name),
		zap.String("symbol", a.cfg.Market.Symbol),
		zap.String("interval", a.cfg.Market.Interval),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
	)

	directory, err := profile.NewDirectory(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化用户目录失败: %w", err)
	}

	credVault, err := vault.New(a.cfg.Vault)
	if err != nil {
		return fmt.Errorf("初始化凭证保管器失败: %w", err)
	}

	book, err := ledger.New(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易台账失败: %w", err)
	}

	events, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	marketClient, err := market.NewClient(a.cfg.Market, a.logger)
	if err != nil {
		return fmt.Errorf("初始化行情客户端失败: %w", err)
	}

	oracleClient, err := oracle.NewClient(a.cfg.OpenAI, a.logger)
	if err != nil {
		return fmt.Errorf("初始化决策客户端失败: %w", err)
	}

	var trader execution.Trader
	if a.cfg.Execution.Simulation {
		a.logger.Info("执行器处于模拟模式")
		trader = execution.NewSimulatedTrader(a.logger)
	} else {
		trader = execution.NewBybitTrader(a.cfg.Execution, a.logger)
	}

	engine, err := execution.NewEngine(a.cfg.Execution, trader, credVault, risk.NewPolicy(a.cfg.Risk), book, a.logger)
	if err != nil {
		return fmt.Errorf("初始化执行引擎失败: %w", err)
	}

	runner, err := NewCycleRunner(
		a.cfg.Market,
		a.cfg.Trading,
		marketClient,
		feature.NewExtractor(a.logger),
		oracleClient,
		directory,
		engine,
		book,
		events,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("初始化周期执行器失败: %w", err)
	}

	sched, err := scheduler.New(a.cfg.Scheduler, scheduler.RealClock{}, runner.RunCycle, a.logger)
	if err != nil {
		return fmt.Errorf("初始化调度器失败: %w", err)
	}

	if err := startServer(ctx, serverDeps{
		directory: directory,
		vault:     credVault,
		book:      book,
		events:    events,
		scheduler: sched,
	}, a.cfg.Server.Port, a.logger); err != nil {
		return fmt.Errorf("启动查询接口失败: %w", err)
	}

	return sched.Run(ctx)
}
