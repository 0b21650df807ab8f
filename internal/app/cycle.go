package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autopilot/internal/config"
	"autopilot/internal/execution"
	"autopilot/internal/feature"
	"autopilot/internal/ledger"
	"autopilot/internal/market"
	"autopilot/internal/monitor"
	"autopilot/internal/oracle"
	"autopilot/internal/profile"
)

type marketSource interface {
	GetCandles(ctx context.Context, symbol, interval string, count int) ([]market.Candle, error)
}

type decider interface {
	Decide(ctx context.Context, window market.Window, summary feature.Summary, rc oracle.RiskContext, customPrompt string) (oracle.Decision, error)
}

type userDirectory interface {
	ListEnabled(ctx context.Context) ([]profile.TradeProfile, error)
}

type cycleExecutor interface {
	ExecuteCycle(ctx context.Context, cycleID int64, symbol string, assignments []execution.Assignment) (execution.Summary, error)
}

// promptGroup 把有效提示词相同的用户归为一组，组内共享一次模型调用。
type promptGroup struct {
	prompt   string
	profiles []profile.TradeProfile
	risk     oracle.RiskContext

	decision oracle.Decision
	err      error
}

// CycleRunner 串起一次完整的自动交易周期：
// 拉取行情、计算特征、按提示词分组决策、逐用户风控与执行、落账。
type CycleRunner struct {
	marketCfg  config.MarketConfig
	tradingCfg config.TradingConfig

	source    marketSource
	extractor *feature.Extractor
	oracle    decider
	directory userDirectory
	engine    cycleExecutor
	book      *ledger.Ledger
	events    *monitor.Service
	logger    *zap.Logger
}

// NewCycleRunner 组装周期执行器。
func NewCycleRunner(
	marketCfg config.MarketConfig,
	tradingCfg config.TradingConfig,
	source marketSource,
	extractor *feature.Extractor,
	decide decider,
	directory userDirectory,
	engine cycleExecutor,
	book *ledger.Ledger,
	events *monitor.Service,
	logger *zap.Logger,
) (*CycleRunner, error) {
	if source == nil || extractor == nil || decide == nil || directory == nil || engine == nil || book == nil {
		return nil, errors.New("app: 周期依赖不完整")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CycleRunner{
		marketCfg:  marketCfg,
		tradingCfg: tradingCfg,
		source:     source,
		extractor:  extractor,
		oracle:     decide,
		directory:  directory,
		engine:     engine,
		book:       book,
		events:     events,
		logger:     logger,
	}, nil
}

// RunCycle 执行一次周期。周期级失败（行情不可用、数据不足、决策全军覆没）
// 会把周期标记为中止且不产生任何用户结果；用户级失败只落入对应用户的台账。
func (r *CycleRunner) RunCycle(ctx context.Context) error {
	symbol := r.marketCfg.Symbol
	interval := r.marketCfg.Interval

	cycleID, err := r.book.StartCycle(ctx, symbol, interval)
	if err != nil {
		return fmt.Errorf("启动周期失败: %w", err)
	}

	if r.events != nil {
		r.events.RecordCycleStarted(ctx, cycleID, symbol, interval)
	}
	r.logger.Info("交易周期启动",
		zap.Int64("cycle_id", cycleID),
		zap.String("symbol", symbol),
		zap.String("interval", interval),
	)

	profiles, err := r.directory.ListEnabled(ctx)
	if err != nil {
		return r.abort(ctx, cycleID, "用户目录不可用", err)
	}

	if len(profiles) == 0 {
		doneCtx := context.WithoutCancel(ctx)
		if err := r.book.CompleteCycle(doneCtx, cycleID, 0); err != nil {
			return fmt.Errorf("完成周期失败: %w", err)
		}
		if r.events != nil {
			r.events.RecordCycleCompleted(doneCtx, cycleID, 0, 0, 0, 0)
		}
		r.logger.Info("无启用用户，周期空转完成", zap.Int64("cycle_id", cycleID))
		return nil
	}

	candles, err := r.source.GetCandles(ctx, symbol, interval, r.tradingCfg.CandleCount)
	if err != nil {
		return r.abort(ctx, cycleID, "行情数据不可用", err)
	}
	if len(candles) < r.tradingCfg.MinCandles {
		return r.abort(ctx, cycleID, "K线数据不足",
			fmt.Errorf("%w: 仅获取 %d 根，最少需要 %d 根", market.ErrDataUnavailable, len(candles), r.tradingCfg.MinCandles))
	}

	window := market.Window{
		Symbol:      symbol,
		Interval:    interval,
		Candles:     candles,
		RetrievedAt: candles[len(candles)-1].Timestamp,
	}

	summary, err := r.extractor.Extract(window)
	if err != nil {
		return r.abort(ctx, cycleID, "特征计算失败", err)
	}

	groups := groupByPrompt(profiles)
	r.decideGroups(ctx, cycleID, window, summary, groups)

	if allGroupsFailed(groups) {
		return r.abort(ctx, cycleID, "全部分组决策失败", groupErrors(groups))
	}

	assignments := buildAssignments(groups)
	result, err := r.engine.ExecuteCycle(ctx, cycleID, symbol, assignments)
	if err != nil {
		return r.abort(ctx, cycleID, "周期执行被中断", err)
	}

	// 执行阶段已经产生了用户结果，完成状态必须落盘，即便周期上下文已超时。
	doneCtx := context.WithoutCancel(ctx)
	if err := r.book.CompleteCycle(doneCtx, cycleID, len(profiles)); err != nil {
		return fmt.Errorf("完成周期失败: %w", err)
	}
	if r.events != nil {
		r.events.RecordCycleCompleted(doneCtx, cycleID, result.Total(), result.Success, result.Held, result.Failed)
	}

	return nil
}

// decideGroups 并发请求各分组的决策，一个分组失败不影响其他分组。
func (r *CycleRunner) decideGroups(ctx context.Context, cycleID int64, window market.Window, summary feature.Summary, groups []*promptGroup) {
	eg, groupCtx := errgroup.WithContext(ctx)

	for _, g := range groups {
		grp := g
		eg.Go(func() error {
			decision, err := r.oracle.Decide(groupCtx, window, summary, grp.risk, grp.prompt)
			grp.decision = decision
			grp.err = err

			if err != nil {
				r.logger.Warn("分组决策失败",
					zap.Int64("cycle_id", cycleID),
					zap.Int("group_size", len(grp.profiles)),
					zap.Error(err),
				)
				if r.events != nil {
					r.events.RecordError(groupCtx, "分组决策失败", err, map[string]interface{}{
						"cycle_id":   cycleID,
						"group_size": len(grp.profiles),
					})
				}
				return nil
			}

			if r.events != nil {
				r.events.RecordDecision(groupCtx, cycleID, len(grp.profiles), grp.risk, decision)
			}
			return nil
		})
	}

	// worker 永远返回 nil，这里只等待全部分组结束。
	_ = eg.Wait()
}

func (r *CycleRunner) abort(ctx context.Context, cycleID int64, reason string, cause error) error {
	if err := r.book.AbortCycle(ctx, cycleID, reason); err != nil {
		// 上下文取消时补一次落账，中止状态必须写入。
		if abortErr := r.book.AbortCycle(context.WithoutCancel(ctx), cycleID, reason); abortErr != nil {
			r.logger.Error("写入周期中止状态失败", zap.Int64("cycle_id", cycleID), zap.Error(abortErr))
		}
	}
	if r.events != nil {
		r.events.RecordCycleAborted(context.WithoutCancel(ctx), cycleID, reason)
	}

	r.logger.Warn("交易周期中止",
		zap.Int64("cycle_id", cycleID),
		zap.String("reason", reason),
		zap.Error(cause),
	)

	return fmt.Errorf("周期 %d 中止: %s: %w", cycleID, reason, cause)
}

// groupByPrompt 按有效提示词分组并计算每组的风险约束。
// 分组顺序与组内用户顺序均为确定性排序，保证周期行为可复现。
func groupByPrompt(profiles []profile.TradeProfile) []*promptGroup {
	byPrompt := make(map[string][]profile.TradeProfile)
	for _, p := range profiles {
		key := p.EffectivePrompt()
		byPrompt[key] = append(byPrompt[key], p)
	}

	keys := make([]string, 0, len(byPrompt))
	for key := range byPrompt {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]*promptGroup, 0, len(keys))
	for _, key := range keys {
		members := byPrompt[key]
		sort.Slice(members, func(i, j int) bool {
			return members[i].UserID < members[j].UserID
		})
		groups = append(groups, &promptGroup{
			prompt:   key,
			profiles: members,
			risk:     conservativeRisk(members),
		})
	}

	return groups
}

// conservativeRisk 取组内最保守的风险约束：最低的杠杆上限、最谨慎的风险等级。
func conservativeRisk(members []profile.TradeProfile) oracle.RiskContext {
	rc := oracle.RiskContext{
		RiskLevel:   string(profile.RiskHigh),
		MaxLeverage: members[0].MaxLeverage,
		UserCount:   len(members),
	}

	rank := map[profile.RiskLevel]int{
		profile.RiskLow:    0,
		profile.RiskMedium: 1,
		profile.RiskHigh:   2,
	}

	best := rank[profile.RiskHigh]
	for _, m := range members {
		if m.MaxLeverage < rc.MaxLeverage {
			rc.MaxLeverage = m.MaxLeverage
		}
		level := m.RiskLevel
		if _, ok := rank[level]; !ok {
			level = profile.RiskMedium
		}
		if rank[level] < best {
			best = rank[level]
			rc.RiskLevel = string(level)
		}
	}

	return rc
}

func allGroupsFailed(groups []*promptGroup) bool {
	for _, g := range groups {
		if g.err == nil {
			return false
		}
	}
	return len(groups) > 0
}

func groupErrors(groups []*promptGroup) error {
	for _, g := range groups {
		if g.err != nil {
			return g.err
		}
	}
	return errors.New("决策失败")
}

func buildAssignments(groups []*promptGroup) []execution.Assignment {
	var assignments []execution.Assignment
	for _, g := range groups {
		for _, p := range g.profiles {
			assignments = append(assignments, execution.Assignment{
				Profile:  p,
				Decision: g.decision,
				Err:      g.err,
			})
		}
	}

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].Profile.UserID < assignments[j].Profile.UserID
	})

	return assignments
}
