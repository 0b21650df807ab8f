package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/store"
)

// ErrNotFound 表示目标周期或结果记录不存在。
var ErrNotFound = errors.New("ledger record not found")

// Ledger 负责周期与逐用户执行结果的持久化台账。
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 初始化台账并创建表结构。
func New(st *store.Store, logger *zap.Logger) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("ledger: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		db:     st.DB(),
		logger: logger,
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trading_cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	user_count INTEGER NOT NULL DEFAULT 0,
	abort_reason TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_cycles_status ON trading_cycles(status);

CREATE TABLE IF NOT EXISTS trade_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	decision_json TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL DEFAULT '',
	leverage REAL NOT NULL DEFAULT 0,
	order_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	executed_at TEXT NOT NULL,
	FOREIGN KEY (cycle_id) REFERENCES trading_cycles(id)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_cycle ON trade_outcomes(cycle_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_user ON trade_outcomes(user_id, executed_at);
`
	if _, err := l.db.Exec(stmt); err != nil {
		return fmt.Errorf("ledger: 初始化表失败: %w", err)
	}
	return nil
}

// StartCycle 记录一个新周期的开始并返回周期ID。
func (l *Ledger) StartCycle(ctx context.Context, symbol, interval string) (int64, error) {
	result, err := l.db.ExecContext(ctx, `
INSERT INTO trading_cycles (symbol, interval, status, started_at)
VALUES (?, ?, ?, ?)`,
		symbol, interval, string(CycleRunning), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: 写入周期失败: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: 获取周期ID失败: %w", err)
	}

	return id, nil
}

// AbortCycle 将周期标记为中止。中止周期不包含任何用户结果。
func (l *Ledger) AbortCycle(ctx context.Context, cycleID int64, reason string) error {
	return l.finishCycle(ctx, cycleID, CycleAborted, 0, reason)
}

// CompleteCycle 将周期标记为完成并记录处理的用户数。
func (l *Ledger) CompleteCycle(ctx context.Context, cycleID int64, userCount int) error {
	return l.finishCycle(ctx, cycleID, CycleCompleted, userCount, "")
}

func (l *Ledger) finishCycle(ctx context.Context, cycleID int64, status CycleStatus, userCount int, reason string) error {
	result, err := l.db.ExecContext(ctx, `
UPDATE trading_cycles
SET status = ?, user_count = ?, abort_reason = ?, finished_at = ?
WHERE id = ? AND status = ?`,
		string(status), userCount, reason, formatTime(time.Now()),
		cycleID, string(CycleRunning),
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新周期状态失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 更新周期状态失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: 周期 %d 不存在或已结束", ErrNotFound, cycleID)
	}

	return nil
}

// BeginOutcome 在执行尝试开始前写入 pending 记录，保证每次尝试都有台账痕迹。
func (l *Ledger) BeginOutcome(ctx context.Context, cycleID, userID int64, decisionJSON, action string, leverage float64) (int64, error) {
	result, err := l.db.ExecContext(ctx, `
INSERT INTO trade_outcomes (cycle_id, user_id, decision_json, action, leverage, status, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cycleID, userID, decisionJSON, action, leverage,
		string(OutcomePending), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: 写入执行记录失败: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: 获取执行记录ID失败: %w", err)
	}

	return id, nil
}

// FinishOutcome 将 pending 记录写成终态。
// WHERE status='pending' 保证终态恰好写入一次，重复调用直接报错。
func (l *Ledger) FinishOutcome(ctx context.Context, outcomeID int64, status OutcomeStatus, orderID, errorMessage string) error {
	if status != OutcomeSuccess && status != OutcomeFailed {
		return fmt.Errorf("ledger: 终态取值非法: %q", status)
	}

	result, err := l.db.ExecContext(ctx, `
UPDATE trade_outcomes
SET status = ?, order_id = ?, error_message = ?, executed_at = ?
WHERE id = ? AND status = ?`,
		string(status), orderID, errorMessage, formatTime(time.Now()),
		outcomeID, string(OutcomePending),
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新执行记录失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 更新执行记录失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: 执行记录 %d 不存在或已终态", ErrNotFound, outcomeID)
	}

	return nil
}

// OutcomesByCycle 返回一个周期内的全部执行记录，按执行时间升序。
func (l *Ledger) OutcomesByCycle(ctx context.Context, cycleID int64) ([]Outcome, error) {
	return l.queryOutcomes(ctx, `
SELECT id, cycle_id, user_id, decision_json, action, leverage, order_id, status, error_message, executed_at
FROM trade_outcomes
WHERE cycle_id = ?
ORDER BY executed_at, id`, cycleID)
}

// OutcomesByUser 返回一个用户的历史执行记录，按执行时间降序。
func (l *Ledger) OutcomesByUser(ctx context.Context, userID int64, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.queryOutcomes(ctx, `
SELECT id, cycle_id, user_id, decision_json, action, leverage, order_id, status, error_message, executed_at
FROM trade_outcomes
WHERE user_id = ?
ORDER BY executed_at DESC, id DESC
LIMIT ?`, userID, limit)
}

func (l *Ledger) queryOutcomes(ctx context.Context, query string, args ...interface{}) ([]Outcome, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询执行记录失败: %w", err)
	}
	defer rows.Close()

	outcomes := make([]Outcome, 0, 16)
	for rows.Next() {
		var (
			o        Outcome
			status   string
			executed string
		)
		if err := rows.Scan(&o.ID, &o.CycleID, &o.UserID, &o.DecisionJSON, &o.Action,
			&o.Leverage, &o.OrderID, &status, &o.ErrorMessage, &executed); err != nil {
			return nil, fmt.Errorf("ledger: 解析执行记录失败: %w", err)
		}
		o.Status = OutcomeStatus(status)
		o.ExecutedAt = parseTime(executed)
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取执行记录失败: %w", err)
	}

	return outcomes, nil
}

// GetCycle 返回指定周期记录。
func (l *Ledger) GetCycle(ctx context.Context, cycleID int64) (Cycle, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, symbol, interval, status, user_count, abort_reason, started_at, finished_at
FROM trading_cycles
WHERE id = ?`, cycleID)

	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cycle{}, fmt.Errorf("%w: 周期 %d", ErrNotFound, cycleID)
		}
		return Cycle{}, err
	}
	return c, nil
}

// ListCycles 返回最近的周期记录，按开始时间降序。
func (l *Ledger) ListCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, symbol, interval, status, user_count, abort_reason, started_at, finished_at
FROM trading_cycles
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询周期失败: %w", err)
	}
	defer rows.Close()

	cycles := make([]Cycle, 0, limit)
	for rows.Next() {
		c, scanErr := scanCycle(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取周期失败: %w", err)
	}

	return cycles, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row rowScanner) (Cycle, error) {
	var (
		c        Cycle
		status   string
		started  string
		finished string
	)

	if err := row.Scan(&c.ID, &c.Symbol, &c.Interval, &status, &c.UserCount,
		&c.AbortReason, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cycle{}, err
		}
		return Cycle{}, fmt.Errorf("ledger: 解析周期失败: %w", err)
	}

	c.Status = CycleStatus(status)
	c.StartedAt = parseTime(started)
	c.FinishedAt = parseTime(finished)

	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
