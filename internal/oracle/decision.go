package oracle

import (
	"errors"
	"fmt"
	"strings"
)

// Action 表示模型给出的交易动作。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ErrDecision 表示模型决策失败（传输失败或返回内容不符合约定格式）。
// 该错误作用于一个提示词分组：组内所有用户的本轮结果均记为失败。
var ErrDecision = errors.New("oracle decision error")

// Decision 表示大模型针对一个提示词分组返回的交易指令。
type Decision struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Leverage   float64 `json:"leverage"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Rationale  string  `json:"reason"`
}

// RiskContext 描述一个提示词分组的风险约束，取组内最保守的配置。
type RiskContext struct {
	RiskLevel   string  `json:"risk_level"`
	MaxLeverage float64 `json:"max_leverage"`
	UserCount   int     `json:"user_count"`
}

// Validate 严格校验决策字段，任何越界都按 ErrDecision 处理。
func (d Decision) Validate() error {
	action := Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	switch action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("%w: action 字段取值非法: %q", ErrDecision, d.Action)
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence 必须位于 [0,1]，当前为 %f", ErrDecision, d.Confidence)
	}

	if d.Leverage < 1 || d.Leverage > 100 {
		return fmt.Errorf("%w: leverage 必须位于 [1,100]，当前为 %f", ErrDecision, d.Leverage)
	}

	if d.StopLoss < 0 || d.StopLoss >= 1 {
		return fmt.Errorf("%w: stop_loss 必须位于 [0,1)，当前为 %f", ErrDecision, d.StopLoss)
	}
	if d.TakeProfit < 0 || d.TakeProfit >= 1 {
		return fmt.Errorf("%w: take_profit 必须位于 [0,1)，当前为 %f", ErrDecision, d.TakeProfit)
	}

	if strings.TrimSpace(d.Rationale) == "" {
		return fmt.Errorf("%w: reason 不能为空", ErrDecision)
	}

	return nil
}

// Normalized 返回动作字段统一为小写后的决策副本。
func (d Decision) Normalized() Decision {
	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	return d
}
