package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autopilot/internal/config"
	"autopilot/internal/ledger"
	"autopilot/internal/oracle"
	"autopilot/internal/profile"
	"autopilot/internal/risk"
	"autopilot/internal/vault"
)

// Assignment 把一个用户与其提示词分组的决策绑定在一起。
// Err 非空表示该分组的决策失败，组内用户记为失败但不影响其他分组。
type Assignment struct {
	Profile  profile.TradeProfile
	Decision oracle.Decision
	Err      error
}

// Summary 汇总一个周期的逐用户执行情况。
type Summary struct {
	Success int
	Held    int
	Failed  int
}

// Total 返回本周期处理的用户总数。
func (s Summary) Total() int {
	return s.Success + s.Held + s.Failed
}

// Engine 并发执行一个周期内所有用户的下单流程。
// 每个用户的失败只记入其自身的执行结果，周期一定会处理完全部用户。
type Engine struct {
	cfg    config.ExecutionConfig
	trader Trader
	vault  *vault.Vault
	policy *risk.Policy
	book   *ledger.Ledger
	logger *zap.Logger
}

// NewEngine 创建执行引擎。
func NewEngine(cfg config.ExecutionConfig, trader Trader, v *vault.Vault, policy *risk.Policy, book *ledger.Ledger, logger *zap.Logger) (*Engine, error) {
	if trader == nil {
		return nil, errors.New("execution: trader 不能为空")
	}
	if v == nil {
		return nil, errors.New("execution: vault 不能为空")
	}
	if policy == nil {
		return nil, errors.New("execution: 风控策略不能为空")
	}
	if book == nil {
		return nil, errors.New("execution: ledger 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}

	return &Engine{
		cfg:    cfg,
		trader: trader,
		vault:  v,
		policy: policy,
		book:   book,
		logger: logger,
	}, nil
}

// ExecuteCycle 以受限并发处理全部用户，返回执行汇总。
// 返回错误仅代表周期级中断（上下文取消），单用户失败不会向上冒泡。
func (e *Engine) ExecuteCycle(ctx context.Context, cycleID int64, symbol string, assignments []Assignment) (Summary, error) {
	var summary Summary
	results := make([]ledger.OutcomeStatus, len(assignments))
	holds := make([]bool, len(assignments))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.MaxConcurrent)

	for i := range assignments {
		idx := i
		group.Go(func() error {
			status, held := e.executeUser(groupCtx, cycleID, symbol, assignments[idx])
			results[idx] = status
			holds[idx] = held
			return nil
		})
	}

	// worker 永远返回 nil，Wait 只等待全部用户处理完毕。
	// 周期截止后 PlaceOrder 会立即失败，对应用户按失败落账。
	_ = group.Wait()

	for i, status := range results {
		switch {
		case holds[i]:
			summary.Held++
		case status == ledger.OutcomeSuccess:
			summary.Success++
		default:
			summary.Failed++
		}
	}

	e.logger.Info("周期执行完成",
		zap.Int64("cycle_id", cycleID),
		zap.Int("users", summary.Total()),
		zap.Int("success", summary.Success),
		zap.Int("held", summary.Held),
		zap.Int("failed", summary.Failed),
	)

	return summary, nil
}

// executeUser 处理单个用户：写入 pending 记录，执行，写入终态。
// 台账写入使用不可取消的上下文：周期超时后终态也必须落盘，不允许残留 pending。
func (e *Engine) executeUser(ctx context.Context, cycleID int64, symbol string, a Assignment) (ledger.OutcomeStatus, bool) {
	userID := a.Profile.UserID
	bookCtx := context.WithoutCancel(ctx)

	if a.Err != nil {
		e.recordFailure(bookCtx, cycleID, userID, "", "", 0, a.Err)
		return ledger.OutcomeFailed, false
	}

	decisionJSON := marshalDecision(a.Decision)
	verdict := e.policy.Apply(a.Decision, a.Profile)

	if verdict.Hold {
		outcomeID, err := e.book.BeginOutcome(bookCtx, cycleID, userID, decisionJSON, string(oracle.ActionHold), 0)
		if err != nil {
			e.logger.Error("写入执行记录失败", zap.Int64("cycle_id", cycleID), zap.Int64("user_id", userID), zap.Error(err))
			return ledger.OutcomeFailed, false
		}
		if err := e.book.FinishOutcome(bookCtx, outcomeID, ledger.OutcomeSuccess, "", ""); err != nil {
			e.logger.Error("写入执行终态失败", zap.Int64("outcome_id", outcomeID), zap.Error(err))
			return ledger.OutcomeFailed, false
		}

		e.logger.Info("本轮观望",
			zap.Int64("cycle_id", cycleID),
			zap.Int64("user_id", userID),
			zap.String("reason", verdict.HoldReason),
		)
		return ledger.OutcomeSuccess, true
	}

	order := OrderRequest{
		CycleID:       cycleID,
		UserID:        userID,
		Symbol:        symbol,
		Action:        verdict.Order.Action,
		Leverage:      verdict.Order.Leverage,
		StopLoss:      verdict.Order.StopLoss,
		TakeProfit:    verdict.Order.TakeProfit,
		ClientOrderID: ClientOrderID(cycleID, userID),
	}

	outcomeID, err := e.book.BeginOutcome(bookCtx, cycleID, userID, decisionJSON, string(order.Action), order.Leverage)
	if err != nil {
		e.logger.Error("写入执行记录失败", zap.Int64("cycle_id", cycleID), zap.Int64("user_id", userID), zap.Error(err))
		return ledger.OutcomeFailed, false
	}

	orderID, placeErr := e.placeWithTimeout(ctx, a.Profile, order)
	if placeErr != nil {
		e.logger.Warn("用户下单失败",
			zap.Int64("cycle_id", cycleID),
			zap.Int64("user_id", userID),
			zap.Error(placeErr),
		)
		if err := e.book.FinishOutcome(bookCtx, outcomeID, ledger.OutcomeFailed, "", placeErr.Error()); err != nil {
			e.logger.Error("写入执行终态失败", zap.Int64("outcome_id", outcomeID), zap.Error(err))
		}
		return ledger.OutcomeFailed, false
	}

	if err := e.book.FinishOutcome(bookCtx, outcomeID, ledger.OutcomeSuccess, orderID, ""); err != nil {
		e.logger.Error("写入执行终态失败", zap.Int64("outcome_id", outcomeID), zap.Error(err))
		return ledger.OutcomeFailed, false
	}

	return ledger.OutcomeSuccess, false
}

func (e *Engine) placeWithTimeout(ctx context.Context, prof profile.TradeProfile, order OrderRequest) (string, error) {
	orderCtx := ctx
	if e.cfg.OrderTimeout > 0 {
		var cancel context.CancelFunc
		orderCtx, cancel = context.WithTimeout(ctx, e.cfg.OrderTimeout)
		defer cancel()
	}

	var orderID string
	err := e.vault.WithDecrypted(prof, func(creds vault.Credentials) error {
		id, placeErr := e.trader.PlaceOrder(orderCtx, creds, order)
		if placeErr != nil {
			return placeErr
		}
		orderID = id
		return nil
	})
	return orderID, err
}

func (e *Engine) recordFailure(ctx context.Context, cycleID, userID int64, decisionJSON, action string, leverage float64, cause error) {
	outcomeID, err := e.book.BeginOutcome(ctx, cycleID, userID, decisionJSON, action, leverage)
	if err != nil {
		e.logger.Error("写入执行记录失败", zap.Int64("cycle_id", cycleID), zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if err := e.book.FinishOutcome(ctx, outcomeID, ledger.OutcomeFailed, "", cause.Error()); err != nil {
		e.logger.Error("写入执行终态失败", zap.Int64("outcome_id", outcomeID), zap.Error(err))
	}
}

// ClientOrderID 生成周期与用户维度唯一的幂等键，交易所据此拒绝重复订单。
func ClientOrderID(cycleID, userID int64) string {
	return fmt.Sprintf("autopilot-c%d-u%d", cycleID, userID)
}

func marshalDecision(d oracle.Decision) string {
	raw, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(raw)
}
