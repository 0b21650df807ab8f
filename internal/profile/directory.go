package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/store"
)

// ErrNotFound 表示目标用户档案不存在。
var ErrNotFound = errors.New("profile not found")

// Directory 负责用户自动交易档案的存取。
type Directory struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectory 初始化档案目录并创建表结构。
func NewDirectory(st *store.Store, logger *zap.Logger) (*Directory, error) {
	if st == nil {
		return nil, errors.New("profile: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Directory{
		db:     st.DB(),
		logger: logger,
	}

	if err := d.initSchema(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Directory) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS user_trade_profiles (
	user_id INTEGER PRIMARY KEY,
	email TEXT NOT NULL,
	risk_level TEXT NOT NULL DEFAULT 'medium',
	max_leverage REAL NOT NULL DEFAULT 10,
	custom_prompt TEXT NOT NULL DEFAULT '',
	auto_trade_enabled INTEGER NOT NULL DEFAULT 0,
	api_key_enc TEXT NOT NULL DEFAULT '',
	api_secret_enc TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_enabled ON user_trade_profiles(auto_trade_enabled);
`
	if _, err := d.db.Exec(stmt); err != nil {
		return fmt.Errorf("profile: 初始化表失败: %w", err)
	}
	return nil
}

// ListEnabled 返回开启了自动交易且配置了凭证的用户档案快照。
// 返回的切片是一次性快照：周期内的设置变更只影响下一个周期。
func (d *Directory) ListEnabled(ctx context.Context) ([]TradeProfile, error) {
	rows, err := d.db.QueryContext(ctx, `
SELECT user_id, email, risk_level, max_leverage, custom_prompt,
       auto_trade_enabled, api_key_enc, api_secret_enc, updated_at
FROM user_trade_profiles
WHERE auto_trade_enabled = 1
  AND api_key_enc != ''
  AND api_secret_enc != ''
ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("profile: 查询启用用户失败: %w", err)
	}
	defer rows.Close()

	profiles := make([]TradeProfile, 0, 16)
	for rows.Next() {
		p, scanErr := scanProfile(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: 读取启用用户失败: %w", err)
	}

	return profiles, nil
}

// Get 返回指定用户档案。
func (d *Directory) Get(ctx context.Context, userID int64) (TradeProfile, error) {
	row := d.db.QueryRowContext(ctx, `
SELECT user_id, email, risk_level, max_leverage, custom_prompt,
       auto_trade_enabled, api_key_enc, api_secret_enc, updated_at
FROM user_trade_profiles
WHERE user_id = ?`, userID)

	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeProfile{}, ErrNotFound
		}
		return TradeProfile{}, err
	}
	return p, nil
}

// Upsert 写入完整档案，主要供初始化与测试使用。
func (d *Directory) Upsert(ctx context.Context, p TradeProfile) error {
	if p.RiskLevel == "" {
		p.RiskLevel = RiskMedium
	}
	if !p.RiskLevel.Valid() {
		return fmt.Errorf("profile: risk_level 取值非法: %q", p.RiskLevel)
	}
	if p.MaxLeverage < 1 || p.MaxLeverage > 100 {
		return errors.New("profile: max_leverage 必须位于 [1,100]")
	}

	_, err := d.db.ExecContext(ctx, `
INSERT INTO user_trade_profiles
	(user_id, email, risk_level, max_leverage, custom_prompt, auto_trade_enabled, api_key_enc, api_secret_enc, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	email = excluded.email,
	risk_level = excluded.risk_level,
	max_leverage = excluded.max_leverage,
	custom_prompt = excluded.custom_prompt,
	auto_trade_enabled = excluded.auto_trade_enabled,
	api_key_enc = excluded.api_key_enc,
	api_secret_enc = excluded.api_secret_enc,
	updated_at = excluded.updated_at`,
		p.UserID, p.Email, string(p.RiskLevel), p.MaxLeverage, p.CustomPrompt,
		boolToInt(p.AutoTradeEnabled), p.APIKeyEnc, p.APISecretEnc,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("profile: 写入档案失败: %w", err)
	}
	return nil
}

// UpdateSettings 为外部设置层提供的变更入口。
// 变更只对之后开始的周期生效，进行中的周期继续使用其启动时的快照。
func (d *Directory) UpdateSettings(ctx context.Context, userID int64, s Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}

	result, err := d.db.ExecContext(ctx, `
UPDATE user_trade_profiles
SET risk_level = ?, max_leverage = ?, custom_prompt = ?, auto_trade_enabled = ?, updated_at = ?
WHERE user_id = ?`,
		string(s.RiskLevel), s.MaxLeverage, s.CustomPrompt, boolToInt(s.AutoTradeEnabled),
		time.Now().UTC().Format(time.RFC3339), userID,
	)
	if err != nil {
		return fmt.Errorf("profile: 更新设置失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("profile: 更新设置失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	d.logger.Info("用户交易设置已更新",
		zap.Int64("user_id", userID),
		zap.String("risk_level", string(s.RiskLevel)),
		zap.Float64("max_leverage", s.MaxLeverage),
		zap.Bool("auto_trade_enabled", s.AutoTradeEnabled),
	)

	return nil
}

// SetCredentials 保存已加密的凭证对，明文永远不会经过本层。
func (d *Directory) SetCredentials(ctx context.Context, userID int64, apiKeyEnc, apiSecretEnc string) error {
	if apiKeyEnc == "" || apiSecretEnc == "" {
		return errors.New("profile: 加密凭证不能为空")
	}

	result, err := d.db.ExecContext(ctx, `
UPDATE user_trade_profiles
SET api_key_enc = ?, api_secret_enc = ?, updated_at = ?
WHERE user_id = ?`,
		apiKeyEnc, apiSecretEnc, time.Now().UTC().Format(time.RFC3339), userID,
	)
	if err != nil {
		return fmt.Errorf("profile: 更新凭证失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("profile: 更新凭证失败: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (TradeProfile, error) {
	var (
		p       TradeProfile
		level   string
		enabled int
		updated string
	)

	if err := row.Scan(&p.UserID, &p.Email, &level, &p.MaxLeverage, &p.CustomPrompt,
		&enabled, &p.APIKeyEnc, &p.APISecretEnc, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TradeProfile{}, err
		}
		return TradeProfile{}, fmt.Errorf("profile: 解析档案失败: %w", err)
	}

	p.RiskLevel = RiskLevel(level)
	p.AutoTradeEnabled = enabled == 1
	if ts, err := time.Parse(time.RFC3339, updated); err == nil {
		p.UpdatedAt = ts
	}

	return p, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
