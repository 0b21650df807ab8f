package risk

import (
	"fmt"

	"autopilot/internal/config"
	"autopilot/internal/oracle"
	"autopilot/internal/profile"
)

// 各风险等级的准入门槛与止损止盈上限。
// 等级越保守，要求的置信度越高，允许的止损止盈区间越窄。
var tiers = map[profile.RiskLevel]tierLimits{
	profile.RiskLow:    {confidenceFloor: 0.80, maxStopLoss: 0.02, maxTakeProfit: 0.04},
	profile.RiskMedium: {confidenceFloor: 0.70, maxStopLoss: 0.05, maxTakeProfit: 0.10},
	profile.RiskHigh:   {confidenceFloor: 0.60, maxStopLoss: 0.10, maxTakeProfit: 0.20},
}

// Policy 将分组决策裁剪成符合单个用户约束的订单。
// Apply 是纯函数：相同输入必然得到相同裁定，不做任何 IO。
type Policy struct {
	fallbackFloor float64
}

// NewPolicy 创建风控策略，cfg 提供风险等级未知时的置信度兜底门槛。
func NewPolicy(cfg config.RiskConfig) *Policy {
	floor := cfg.ConfidenceThreshold
	if floor <= 0 || floor > 1 {
		floor = 0.70
	}
	return &Policy{fallbackFloor: floor}
}

// Apply 根据用户档案裁定一条分组决策。
// 决策本身已通过严格校验，这里只做用户维度的收紧，绝不放宽。
func (p *Policy) Apply(decision oracle.Decision, prof profile.TradeProfile) Verdict {
	if decision.Action == oracle.ActionHold {
		return Verdict{Hold: true, HoldReason: "模型建议观望"}
	}

	limits := p.limitsFor(prof.RiskLevel)

	if decision.Confidence < limits.confidenceFloor {
		return Verdict{
			Hold: true,
			HoldReason: fmt.Sprintf("置信度 %.2f 低于 %s 等级门槛 %.2f",
				decision.Confidence, prof.RiskLevel, limits.confidenceFloor),
		}
	}

	leverage := decision.Leverage
	if prof.MaxLeverage >= 1 && leverage > prof.MaxLeverage {
		leverage = prof.MaxLeverage
	}

	stopLoss := decision.StopLoss
	if stopLoss > limits.maxStopLoss {
		stopLoss = limits.maxStopLoss
	}
	takeProfit := decision.TakeProfit
	if takeProfit > limits.maxTakeProfit {
		takeProfit = limits.maxTakeProfit
	}

	return Verdict{
		Order: EffectiveOrder{
			Action:     decision.Action,
			Leverage:   leverage,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Confidence: decision.Confidence,
			Rationale:  decision.Rationale,
		},
	}
}

func (p *Policy) limitsFor(level profile.RiskLevel) tierLimits {
	if limits, ok := tiers[level]; ok {
		return limits
	}
	// 等级非法时按中等处理，但门槛取配置兜底值。
	limits := tiers[profile.RiskMedium]
	limits.confidenceFloor = p.fallbackFloor
	return limits
}
