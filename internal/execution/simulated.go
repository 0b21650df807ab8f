package execution

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"autopilot/internal/vault"
)

// SimulatedTrader 只记录订单不触达交易所，用于演练与开发环境。
type SimulatedTrader struct {
	logger *zap.Logger
	seq    atomic.Int64
}

// NewSimulatedTrader 创建模拟执行器。
func NewSimulatedTrader(logger *zap.Logger) *SimulatedTrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedTrader{logger: logger}
}

// PlaceOrder 返回本地生成的订单号，凭证仅校验非空。
func (t *SimulatedTrader) PlaceOrder(ctx context.Context, creds vault.Credentials, req OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(creds.APIKey) == 0 || len(creds.APISecret) == 0 {
		return "", fmt.Errorf("%w: 模拟下单缺少凭证", ErrExchange)
	}

	orderID := fmt.Sprintf("sim-%s-%d", req.ClientOrderID, t.seq.Add(1))

	t.logger.Info("模拟下单完成",
		zap.Int64("cycle_id", req.CycleID),
		zap.Int64("user_id", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Action)),
		zap.Float64("leverage", req.Leverage),
		zap.String("order_id", orderID),
	)

	return orderID, nil
}

var _ Trader = (*SimulatedTrader)(nil)
var _ Trader = (*BybitTrader)(nil)
