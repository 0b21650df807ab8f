package feature

import (
	"math"
	"testing"
	"time"

	"autopilot/internal/market"
)

func testWindow(n int) market.Window {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i) + 2*math.Sin(float64(i)/3)
		candles = append(candles, market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      base - 0.5,
			High:      base + 1,
			Low:       base - 1,
			Close:     base,
			Volume:    1000 + float64(i)*10,
		})
	}
	return market.Window{
		Symbol:   "BTC/USDT:USDT",
		Interval: "1m",
		Candles:  candles,
	}
}

func TestExtract_PopulatesSummary(t *testing.T) {
	extractor := NewExtractor(nil)

	summary, err := extractor.Extract(testWindow(40))
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if summary.Symbol != "BTC/USDT:USDT" {
		t.Errorf("unexpected symbol %q", summary.Symbol)
	}
	if summary.CandleCount != 40 {
		t.Errorf("expected candle count 40, got %d", summary.CandleCount)
	}
	if summary.CurrentPrice <= 0 {
		t.Errorf("expected positive current price, got %f", summary.CurrentPrice)
	}
	if summary.PriceChangePct <= 0 {
		t.Errorf("rising series should report positive change, got %f", summary.PriceChangePct)
	}
	if summary.Trend != "uptrend" {
		t.Errorf("rising series should report uptrend, got %q", summary.Trend)
	}
	if summary.VolumeRatio <= 0 {
		t.Errorf("expected positive volume ratio, got %f", summary.VolumeRatio)
	}
}

func TestExtract_EmptyWindow(t *testing.T) {
	if _, err := NewExtractor(nil).Extract(market.Window{}); err == nil {
		t.Fatalf("expected error for empty window")
	}
}

func TestRSIState(t *testing.T) {
	cases := []struct {
		rsi  float64
		want string
	}{
		{75, "overbought"},
		{25, "oversold"},
		{50, "neutral"},
		{0, "neutral"},
	}
	for _, tc := range cases {
		if got := rsiState(tc.rsi); got != tc.want {
			t.Errorf("rsi=%f: got %q want %q", tc.rsi, got, tc.want)
		}
	}
}
