package oracle

import (
	"strings"
	"testing"
	"time"

	"autopilot/internal/feature"
	"autopilot/internal/market"
)

func promptWindow() market.Window {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, 0, 15)
	for i := 0; i < 15; i++ {
		candles = append(candles, market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      50000,
			High:      50100,
			Low:       49900,
			Close:     50050,
			Volume:    100,
		})
	}
	return market.Window{Symbol: "BTC/USDT:USDT", Interval: "1m", Candles: candles}
}

func TestBuildPrompt_IncludesRiskConstraints(t *testing.T) {
	rc := RiskContext{RiskLevel: "low", MaxLeverage: 5, UserCount: 2}

	prompt, err := BuildPrompt(promptWindow(), feature.Summary{Symbol: "BTC/USDT:USDT"}, rc, "")
	if err != nil {
		t.Fatalf("BuildPrompt returned error: %v", err)
	}

	if !strings.Contains(prompt, "low") {
		t.Errorf("prompt missing risk level")
	}
	if !strings.Contains(prompt, "最大杠杆: 5") {
		t.Errorf("prompt missing leverage cap: %s", prompt)
	}
	if strings.Contains(prompt, "附加交易偏好") {
		t.Errorf("empty custom prompt must not add preference section")
	}
}

func TestBuildPrompt_AppendsCustomPrompt(t *testing.T) {
	prompt, err := BuildPrompt(promptWindow(), feature.Summary{}, RiskContext{RiskLevel: "medium", MaxLeverage: 10}, "只做多，不开空单")
	if err != nil {
		t.Fatalf("BuildPrompt returned error: %v", err)
	}

	if !strings.Contains(prompt, "附加交易偏好") || !strings.Contains(prompt, "只做多，不开空单") {
		t.Errorf("custom prompt not rendered: %s", prompt)
	}
}

func TestBuildPrompt_LimitsCandleTail(t *testing.T) {
	prompt, err := BuildPrompt(promptWindow(), feature.Summary{}, RiskContext{RiskLevel: "medium", MaxLeverage: 10}, "")
	if err != nil {
		t.Fatalf("BuildPrompt returned error: %v", err)
	}

	// 窗口15根，提示词里最多出现10根。
	if got := strings.Count(prompt, `"timestamp"`); got != promptTailCandles {
		t.Errorf("expected %d candles in prompt, got %d", promptTailCandles, got)
	}
}
