package risk

import (
	"autopilot/internal/oracle"
)

// Verdict 是风控对单个用户的最终裁定。
// Hold 为 true 时表示本轮不下单，HoldReason 说明原因。
type Verdict struct {
	Hold       bool
	HoldReason string
	Order      EffectiveOrder
}

// EffectiveOrder 为风控裁剪后可直接提交执行的订单参数。
type EffectiveOrder struct {
	Action     oracle.Action
	Leverage   float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Rationale  string
}

// tierLimits 定义一个风险等级的准入门槛与止损止盈上限。
type tierLimits struct {
	confidenceFloor float64
	maxStopLoss     float64
	maxTakeProfit   float64
}
