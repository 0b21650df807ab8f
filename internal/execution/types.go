package execution

import (
	"context"
	"errors"

	"autopilot/internal/oracle"
	"autopilot/internal/vault"
)

// ErrExchange 表示下单链路上的交易所失败（余额不足、认证被拒、下单被拒等）。
// 该错误只作用于单个用户的本轮执行。
var ErrExchange = errors.New("exchange error")

// OrderRequest 为风控裁剪后、可直接提交交易所的订单。
// ClientOrderID 在周期与用户维度内唯一，交易所侧据此去重。
type OrderRequest struct {
	CycleID       int64
	UserID        int64
	Symbol        string
	Action        oracle.Action
	Leverage      float64
	StopLoss      float64
	TakeProfit    float64
	ClientOrderID string
}

// Trader 抽象单笔下单能力，方便在真实与模拟交易所之间切换。
type Trader interface {
	PlaceOrder(ctx context.Context, creds vault.Credentials, req OrderRequest) (orderID string, err error)
}
