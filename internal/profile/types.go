package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RiskLevel 表示用户配置的风险偏好。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid 判断风险等级取值是否合法。
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// TradeProfile 为一个用户的自动交易档案。
// 周期开始时整体快照读取，周期内对引擎只读。
type TradeProfile struct {
	UserID           int64     `json:"user_id"`
	Email            string    `json:"email"`
	RiskLevel        RiskLevel `json:"risk_level"`
	MaxLeverage      float64   `json:"max_leverage"`
	CustomPrompt     string    `json:"custom_prompt,omitempty"`
	AutoTradeEnabled bool      `json:"auto_trade_enabled"`
	APIKeyEnc        string    `json:"-"`
	APISecretEnc     string    `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// EffectivePrompt 返回用户的有效提示词：自定义提示词非空时使用之，否则为空串，
// 空串代表系统默认提示词分组。
func (p TradeProfile) EffectivePrompt() string {
	return strings.TrimSpace(p.CustomPrompt)
}

// Settings 为外部设置层可修改的字段集合。
type Settings struct {
	RiskLevel        RiskLevel `json:"risk_level"`
	MaxLeverage      float64   `json:"max_leverage"`
	CustomPrompt     string    `json:"custom_prompt"`
	AutoTradeEnabled bool      `json:"auto_trade_enabled"`
}

// Validate 校验设置字段。
func (s Settings) Validate() error {
	if !s.RiskLevel.Valid() {
		return fmt.Errorf("risk_level 取值非法: %q", s.RiskLevel)
	}
	if s.MaxLeverage < 1 || s.MaxLeverage > 100 {
		return errors.New("max_leverage 必须位于 [1,100]")
	}
	return nil
}
