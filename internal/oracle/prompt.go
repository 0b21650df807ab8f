package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"autopilot/internal/feature"
	"autopilot/internal/market"
)

const systemPrompt = `你是一个专业的加密货币量化交易员。你的任务是根据提供的K线数据与技术指标，
在遵循风险约束的前提下给出明确的交易判断。

制定决策时请遵循：
1. 综合技术指标（RSI、MACD、EMA 趋势）、价格形态与成交量变化；
2. 注意支撑/阻力位与市场动量；
3. confidence 低于 0.7 时建议返回 hold；
4. 结合给出的风险约束调整杠杆，不要超过 max_leverage；
5. 没有明确信号时保守处理。

请严格输出唯一的 JSON 对象，格式如下：
{
  "action": "buy|sell|hold",
  "confidence": 0.0-1.0,
  "leverage": 1-20,
  "stop_loss": 0.01-0.1,
  "take_profit": 0.01-0.2,
  "reason": "判断依据的简要说明"
}

所有字段均需填写；stop_loss 与 take_profit 为相对入场价的比例。`

const userTemplate = `风险约束：
- 风险等级: {{ .Risk.RiskLevel }}
- 最大杠杆: {{ printf "%.0f" .Risk.MaxLeverage }}

市场摘要：
{{ .SummaryJSON }}

最近K线（按时间升序，最多 {{ .TailCount }} 根）：
{{ .CandlesJSON }}
{{ if .CustomPrompt }}
附加交易偏好：
{{ .CustomPrompt }}
{{ end }}
请基于以上数据给出交易判断。`

var userTmpl = template.Must(template.New("decision").Parse(userTemplate))

// promptTailCandles 控制注入提示词的K线数量，窗口其余部分由摘要体现。
const promptTailCandles = 10

type promptContext struct {
	Risk         RiskContext
	SummaryJSON  string
	CandlesJSON  string
	CustomPrompt string
	TailCount    int
}

// BuildPrompt 将窗口、特征摘要与风险约束渲染成用户提示词。
// customPrompt 为用户的有效提示词追加段，为空时使用系统默认行为。
func BuildPrompt(window market.Window, summary feature.Summary, rc RiskContext, customPrompt string) (string, error) {
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化市场摘要失败: %w", err)
	}

	tail := window.Candles
	if len(tail) > promptTailCandles {
		tail = tail[len(tail)-promptTailCandles:]
	}
	candlesJSON, err := json.MarshalIndent(tail, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化K线失败: %w", err)
	}

	ctx := promptContext{
		Risk:         rc,
		SummaryJSON:  string(summaryJSON),
		CandlesJSON:  string(candlesJSON),
		CustomPrompt: customPrompt,
		TailCount:    promptTailCandles,
	}

	var buf bytes.Buffer
	if err = userTmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
