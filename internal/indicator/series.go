package indicator

import (
	"time"

	"autopilot/internal/market"
)

// Series 将K线拆分为按字段对齐的数组，便于指标计算。
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewSeries 由K线窗口构造 Series。
func NewSeries(candles []market.Candle) Series {
	s := Series{
		Timestamps: make([]time.Time, 0, len(candles)),
		Open:       make([]float64, 0, len(candles)),
		High:       make([]float64, 0, len(candles)),
		Low:        make([]float64, 0, len(candles)),
		Close:      make([]float64, 0, len(candles)),
		Volume:     make([]float64, 0, len(candles)),
	}
	for _, c := range candles {
		s.Timestamps = append(s.Timestamps, c.Timestamp)
		s.Open = append(s.Open, c.Open)
		s.High = append(s.High, c.High)
		s.Low = append(s.Low, c.Low)
		s.Close = append(s.Close, c.Close)
		s.Volume = append(s.Volume, c.Volume)
	}
	return s
}

// Len 返回序列长度。
func (s Series) Len() int {
	return len(s.Close)
}

// Last 返回序列最后一个值，空序列返回 0。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Prev 返回序列倒数第二个值，不足两个时返回 0。
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return values[len(values)-2]
}

// SliceTail 返回序列末尾最多 n 个元素。
func SliceTail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// SafeDivide 在分母为 0 时返回 0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
