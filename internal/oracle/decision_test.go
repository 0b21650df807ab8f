package oracle

import (
	"errors"
	"testing"
)

func TestParseDecision_ExtractsJSONFromNoise(t *testing.T) {
	content := "分析如下：\n```json\n{\"action\": \"BUY\", \"confidence\": 0.82, \"leverage\": 5, \"stop_loss\": 0.03, \"take_profit\": 0.06, \"reason\": \"uptrend\"}\n```\n以上。"

	decision, err := ParseDecision(content)
	if err != nil {
		t.Fatalf("ParseDecision returned error: %v", err)
	}

	if decision.Action != ActionBuy {
		t.Errorf("expected action buy after normalization, got %s", decision.Action)
	}
	if decision.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %f", decision.Confidence)
	}
}

func TestParseDecision_NoJSON(t *testing.T) {
	if _, err := ParseDecision("我无法给出判断"); !errors.Is(err, ErrDecision) {
		t.Fatalf("expected ErrDecision, got %v", err)
	}
}

func TestParseDecision_MalformedJSON(t *testing.T) {
	if _, err := ParseDecision(`{"action": "buy", "confidence": }`); !errors.Is(err, ErrDecision) {
		t.Fatalf("expected ErrDecision, got %v", err)
	}
}

func TestValidate_RejectsOutOfRangeFields(t *testing.T) {
	valid := Decision{
		Action:     ActionSell,
		Confidence: 0.7,
		Leverage:   3,
		StopLoss:   0.02,
		TakeProfit: 0.05,
		Rationale:  "breakdown",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Decision)
	}{
		{"unknown action", func(d *Decision) { d.Action = "short" }},
		{"confidence above one", func(d *Decision) { d.Confidence = 1.2 }},
		{"confidence negative", func(d *Decision) { d.Confidence = -0.1 }},
		{"leverage below one", func(d *Decision) { d.Leverage = 0.5 }},
		{"leverage above cap", func(d *Decision) { d.Leverage = 150 }},
		{"stop loss negative", func(d *Decision) { d.StopLoss = -0.01 }},
		{"stop loss at one", func(d *Decision) { d.StopLoss = 1 }},
		{"take profit at one", func(d *Decision) { d.TakeProfit = 1 }},
		{"empty reason", func(d *Decision) { d.Rationale = "  " }},
	}

	for _, tc := range cases {
		decision := valid
		tc.mutate(&decision)
		if err := decision.Validate(); !errors.Is(err, ErrDecision) {
			t.Errorf("%s: expected ErrDecision, got %v", tc.name, err)
		}
	}
}

func TestNormalized_LowercasesAction(t *testing.T) {
	d := Decision{Action: " HOLD "}
	if got := d.Normalized().Action; got != ActionHold {
		t.Errorf("expected hold, got %q", got)
	}
}
