package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"autopilot/internal/config"
	"autopilot/internal/feature"
	"autopilot/internal/market"
)

// Client 封装 OpenAI 决策调用逻辑。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建决策客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}

	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	client := openai.NewClientWithConfig(sdkConfig)

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    client,
	}, nil
}

// Decide 根据K线窗口与风险约束获取一个提示词分组的交易决策。
// 任何传输失败或格式违规均以 ErrDecision 包装返回。
func (c *Client) Decide(ctx context.Context, window market.Window, summary feature.Summary, rc RiskContext, customPrompt string) (Decision, error) {
	if c.cfg.Model == "" {
		return Decision{}, fmt.Errorf("%w: openai model 不能为空", ErrDecision)
	}

	prompt, err := BuildPrompt(window, summary, rc, customPrompt)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrDecision, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return Decision{}, fmt.Errorf("%w: 调用OpenAI失败: %v", ErrDecision, err)
	}

	if len(response.Choices) == 0 {
		return Decision{}, fmt.Errorf("%w: OpenAI 返回结果为空", ErrDecision)
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Decision{}, fmt.Errorf("%w: OpenAI 返回内容为空", ErrDecision)
	}

	decision, err := ParseDecision(rawContent)
	if err != nil {
		c.logger.Error("解析模型决策失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Decision{}, err
	}

	c.logger.Info("决策生成成功",
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence),
		zap.Float64("leverage", decision.Leverage),
	)

	return decision, nil
}

// ParseDecision 从模型输出中提取并校验决策。
func ParseDecision(content string) (Decision, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if err = json.Unmarshal(jsonPayload, &decision); err != nil {
		return Decision{}, fmt.Errorf("%w: 解析决策JSON失败: %v", ErrDecision, err)
	}

	decision = decision.Normalized()
	if err := decision.Validate(); err != nil {
		return Decision{}, err
	}

	return decision, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: 模型输出未找到有效JSON: %s", ErrDecision, content)
	}

	return []byte(content[start : end+1]), nil
}
