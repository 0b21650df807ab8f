package feature

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/indicator"
	"autopilot/internal/market"
)

// Summary 汇总一个K线窗口的市场状态，用于提示词拼装。
type Summary struct {
	Symbol         string    `json:"symbol"`
	Interval       string    `json:"interval"`
	CandleCount    int       `json:"candle_count"`
	CurrentPrice   float64   `json:"current_price"`
	PriceChangePct float64   `json:"price_change_pct"`
	AverageVolume  float64   `json:"average_volume"`
	RecentVolume   float64   `json:"recent_volume"`
	VolumeRatio    float64   `json:"volume_ratio"`
	RSI            float64   `json:"rsi"`
	RSIState       string    `json:"rsi_state"`
	MACDValue      float64   `json:"macd_value"`
	MACDSignal     float64   `json:"macd_signal"`
	MACDHistogram  float64   `json:"macd_histogram"`
	MACDState      string    `json:"macd_state"`
	EMA12          float64   `json:"ema_12"`
	EMA26          float64   `json:"ema_26"`
	Trend          string    `json:"trend"`
	ATR            float64   `json:"atr"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// Extractor 根据K线窗口提取特征摘要。
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor 创建特征提取器。
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract 计算窗口特征。
func (e *Extractor) Extract(window market.Window) (Summary, error) {
	candles := window.Candles
	if len(candles) == 0 {
		return Summary{}, fmt.Errorf("特征计算失败: K线窗口为空")
	}

	result, err := indicator.Compute(candles)
	if err != nil {
		return Summary{}, err
	}

	first := candles[0].Close
	last := result.Close
	changePct := 0.0
	if first > 0 {
		changePct = (last - first) / first * 100
	}

	summary := Summary{
		Symbol:         window.Symbol,
		Interval:       window.Interval,
		CandleCount:    len(candles),
		CurrentPrice:   last,
		PriceChangePct: changePct,
		AverageVolume:  result.Volume.Average,
		RecentVolume:   result.Volume.Current,
		VolumeRatio:    result.Volume.Ratio,
		RSI:            result.RSI,
		RSIState:       rsiState(result.RSI),
		MACDValue:      result.MACD.Value,
		MACDSignal:     result.MACD.Signal,
		MACDHistogram:  result.MACD.Histogram,
		MACDState:      macdState(result.MACD),
		EMA12:          result.EMA12,
		EMA26:          result.EMA26,
		Trend:          trendState(result),
		ATR:            result.ATR,
		GeneratedAt:    time.Now().UTC(),
	}

	e.logger.Debug("窗口特征计算完成",
		zap.String("symbol", summary.Symbol),
		zap.Int("candles", summary.CandleCount),
		zap.Float64("price_change_pct", summary.PriceChangePct),
		zap.String("trend", summary.Trend),
	)

	return summary, nil
}

func rsiState(rsi float64) string {
	switch {
	case rsi >= 70:
		return "overbought"
	case rsi > 0 && rsi <= 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func macdState(m indicator.MACDResult) string {
	switch {
	case m.Histogram > 0:
		return "bullish"
	case m.Histogram < 0:
		return "bearish"
	default:
		return "neutral"
	}
}

func trendState(r indicator.Result) string {
	switch {
	case r.EMA12 > r.EMA26 && r.Close > r.EMA12:
		return "uptrend"
	case r.EMA12 < r.EMA26 && r.Close < r.EMA12:
		return "downtrend"
	default:
		return "sideways"
	}
}
