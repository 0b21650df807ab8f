package ledger

import "time"

// CycleStatus 表示一个交易周期的生命周期状态。
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleAborted   CycleStatus = "aborted"
	CycleCompleted CycleStatus = "completed"
)

// OutcomeStatus 表示单个用户在一个周期内的执行结果状态。
// pending 在尝试开始时写入，终态只会被写入一次。
type OutcomeStatus string

const (
	OutcomePending OutcomeStatus = "pending"
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Cycle 是一次完整自动交易周期的台账记录。
type Cycle struct {
	ID          int64       `json:"id"`
	Symbol      string      `json:"symbol"`
	Interval    string      `json:"interval"`
	Status      CycleStatus `json:"status"`
	UserCount   int         `json:"user_count"`
	AbortReason string      `json:"abort_reason,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at,omitempty"`
}

// Outcome 是单个用户在一个周期内的执行记录。
type Outcome struct {
	ID           int64         `json:"id"`
	CycleID      int64         `json:"cycle_id"`
	UserID       int64         `json:"user_id"`
	DecisionJSON string        `json:"decision_json"`
	Action       string        `json:"action"`
	Leverage     float64       `json:"leverage"`
	OrderID      string        `json:"order_id,omitempty"`
	Status       OutcomeStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ExecutedAt   time.Time     `json:"executed_at"`
}
