package market

import "time"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Window 为一次周期采集到的K线窗口快照，按时间升序排列。
type Window struct {
	Symbol      string    `json:"symbol"`
	Interval    string    `json:"interval"`
	Candles     []Candle  `json:"candles"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// LatestClose 返回窗口内最新收盘价，窗口为空时返回 0。
func (w Window) LatestClose() float64 {
	if len(w.Candles) == 0 {
		return 0
	}
	return w.Candles[len(w.Candles)-1].Close
}
