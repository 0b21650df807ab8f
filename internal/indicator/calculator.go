package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"autopilot/internal/market"
)

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// VolumeResult 保存成交量相关统计。
type VolumeResult struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Ratio   float64 `json:"ratio"`
}

// Result 为一次指标计算的汇总。
type Result struct {
	EMA12         float64      `json:"ema_12"`
	EMA26         float64      `json:"ema_26"`
	MACD          MACDResult   `json:"macd"`
	RSI           float64      `json:"rsi"`
	ATR           float64      `json:"atr"`
	Volume        VolumeResult `json:"volume"`
	Close         float64      `json:"close"`
	PreviousClose float64      `json:"previous_close"`
}

// Compute 依据给定K线计算常用技术指标。
// talib 在数据长度不足时返回前导 0，调用方应保证窗口满足最小长度。
func Compute(candles []market.Candle) (Result, error) {
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("计算指标失败: 输入K线为空")
	}

	series := NewSeries(candles)
	closePrices := series.Close

	ema12 := talib.Ema(closePrices, 12)
	ema26 := talib.Ema(closePrices, 26)

	macd, macdSignal, macdHist := talib.Macd(closePrices, 12, 26, 9)

	rsi := talib.Rsi(closePrices, 14)

	atr := talib.Atr(series.High, series.Low, closePrices, 14)

	volumeAvg := average(SliceTail(series.Volume, 20))
	volumeCurrent := Last(series.Volume)

	result := Result{
		EMA12: Last(ema12),
		EMA26: Last(ema26),
		MACD: MACDResult{
			Value:     Last(macd),
			Signal:    Last(macdSignal),
			Histogram: Last(macdHist),
		},
		RSI: Last(rsi),
		ATR: Last(atr),
		Volume: VolumeResult{
			Current: volumeCurrent,
			Average: volumeAvg,
			Ratio:   SafeDivide(volumeCurrent, volumeAvg),
		},
		Close:         Last(closePrices),
		PreviousClose: Prev(closePrices),
	}

	return result, nil
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
