package monitor

import (
	"time"

	"autopilot/internal/oracle"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventCycleStarted   EventType = "cycle_started"
	EventCycleCompleted EventType = "cycle_completed"
	EventCycleAborted   EventType = "cycle_aborted"
	EventDecision       EventType = "decision"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// CycleStartedPayload 记录周期启动信息。
type CycleStartedPayload struct {
	CycleID  int64  `json:"cycle_id"`
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// CycleCompletedPayload 记录周期完成信息。
type CycleCompletedPayload struct {
	CycleID int64 `json:"cycle_id"`
	Users   int   `json:"users"`
	Success int   `json:"success"`
	Held    int   `json:"held"`
	Failed  int   `json:"failed"`
}

// CycleAbortedPayload 记录周期中止原因。
type CycleAbortedPayload struct {
	CycleID int64  `json:"cycle_id"`
	Reason  string `json:"reason"`
}

// DecisionPayload 记录一个提示词分组的决策。
type DecisionPayload struct {
	CycleID   int64              `json:"cycle_id"`
	GroupSize int                `json:"group_size"`
	Risk      oracle.RiskContext `json:"risk"`
	Decision  oracle.Decision    `json:"decision"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
