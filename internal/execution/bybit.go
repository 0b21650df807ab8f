package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"autopilot/internal/config"
	"autopilot/internal/oracle"
	"autopilot/internal/vault"
)

// availableRatio 控制单笔订单最多动用的可用余额比例，余量留作保证金缓冲。
const availableRatio = 0.8

// BybitTrader 使用用户自己的凭证在 Bybit 合约市场下市价单。
// 每次下单都构造一次性客户端，凭证绝不在调用之间驻留。
type BybitTrader struct {
	cfg    config.ExecutionConfig
	logger *zap.Logger
}

// NewBybitTrader 创建真实下单执行器。
func NewBybitTrader(cfg config.ExecutionConfig, logger *zap.Logger) *BybitTrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitTrader{
		cfg:    cfg,
		logger: logger,
	}
}

// PlaceOrder 校验余额、设置杠杆并提交带止损止盈的市价单。
// 所有交易所侧失败均以 ErrExchange 包装，由上层记入该用户的执行结果。
func (t *BybitTrader) PlaceOrder(ctx context.Context, creds vault.Credentials, req OrderRequest) (string, error) {
	if req.Action != oracle.ActionBuy && req.Action != oracle.ActionSell {
		return "", fmt.Errorf("%w: 不支持的下单方向 %q", ErrExchange, req.Action)
	}

	ex := t.newExchange(creds)

	if _, err := ex.LoadMarkets(); err != nil {
		return "", t.wrap("加载市场元数据失败", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	free, err := t.freeBalance(ex)
	if err != nil {
		return "", err
	}
	if free < t.cfg.MinBalanceUSDT {
		return "", fmt.Errorf("%w: 可用余额 %.2f USDT 低于最小下单门槛 %.2f", ErrExchange, free, t.cfg.MinBalanceUSDT)
	}

	price, err := t.lastPrice(ex, req.Symbol)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	amount := free * availableRatio / price
	if amount <= 0 {
		return "", fmt.Errorf("%w: 计算下单数量无效 amount=%.8f", ErrExchange, amount)
	}

	t.applyLeverage(ex, req)

	params := map[string]interface{}{
		"clientOrderId": req.ClientOrderID,
	}
	if req.StopLoss > 0 {
		params["stopLossPrice"] = stopPrice(price, req.StopLoss, req.Action, true)
	}
	if req.TakeProfit > 0 {
		params["takeProfitPrice"] = stopPrice(price, req.TakeProfit, req.Action, false)
	}

	order, err := ex.CreateMarketOrder(req.Symbol, string(req.Action), amount,
		ccxt.WithCreateMarketOrderParams(params))
	if err != nil {
		return "", t.wrap("下单失败", err)
	}

	orderID := ""
	if order.Id != nil {
		orderID = *order.Id
	}
	if orderID == "" {
		orderID = req.ClientOrderID
	}

	t.logger.Info("市价单已提交",
		zap.Int64("cycle_id", req.CycleID),
		zap.Int64("user_id", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Action)),
		zap.Float64("amount", amount),
		zap.Float64("price", price),
		zap.String("order_id", orderID),
	)

	return orderID, nil
}

func (t *BybitTrader) newExchange(creds vault.Credentials) *ccxt.Bybit {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"apiKey":          string(creds.APIKey),
		"secret":          string(creds.APISecret),
		"options": map[string]interface{}{
			"defaultType": "swap",
		},
	}

	ex := ccxt.NewBybit(userConfig)
	if t.cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}
	return ex
}

func (t *BybitTrader) freeBalance(ex *ccxt.Bybit) (float64, error) {
	balances, err := ex.FetchBalance()
	if err != nil {
		return 0, t.wrap("获取账户余额失败", err)
	}

	if balances.Free != nil {
		if free, ok := balances.Free["USDT"]; ok && free != nil {
			return *free, nil
		}
	}
	return 0, nil
}

func (t *BybitTrader) lastPrice(ex *ccxt.Bybit, symbol string) (float64, error) {
	ticker, err := ex.FetchTicker(symbol)
	if err != nil {
		return 0, t.wrap("获取最新价格失败", err)
	}
	if ticker.Last == nil || *ticker.Last <= 0 {
		return 0, fmt.Errorf("%w: 最新价格无效", ErrExchange)
	}
	return *ticker.Last, nil
}

// applyLeverage 尽力设置账户杠杆。部分账户已是目标杠杆时交易所会报错，忽略即可。
func (t *BybitTrader) applyLeverage(ex *ccxt.Bybit, req OrderRequest) {
	if req.Leverage < 1 {
		return
	}

	if _, err := ex.SetLeverage(int64(req.Leverage), ccxt.WithSetLeverageSymbol(req.Symbol)); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not modified") {
			return
		}
		t.logger.Warn("设置杠杆失败，按账户当前杠杆继续",
			zap.Int64("user_id", req.UserID),
			zap.Float64("leverage", req.Leverage),
			zap.Error(err),
		)
	}
}

func (t *BybitTrader) wrap(message string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrExchange, message, err)
}

// stopPrice 把相对入场价的比例换算成触发价。
// 止损在不利方向，止盈在有利方向，买卖方向相反。
func stopPrice(price, fraction float64, action oracle.Action, isStopLoss bool) float64 {
	down := price * (1 - fraction)
	up := price * (1 + fraction)

	buy := action == oracle.ActionBuy
	if isStopLoss {
		if buy {
			return down
		}
		return up
	}
	if buy {
		return up
	}
	return down
}
