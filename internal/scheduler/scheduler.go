package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"autopilot/internal/config"
)

// CycleFunc 执行一次完整的自动交易周期。
type CycleFunc func(ctx context.Context) error

// Scheduler 按固定节奏触发交易周期，同一时刻最多只有一个周期在运行。
// 上一周期未结束时到点直接跳过，不排队补跑。
type Scheduler struct {
	cfg    config.SchedulerConfig
	clock  Clock
	run    CycleFunc
	logger *zap.Logger

	busy atomic.Bool
}

// New 创建调度器。
func New(cfg config.SchedulerConfig, clock Clock, run CycleFunc, logger *zap.Logger) (*Scheduler, error) {
	if run == nil {
		return nil, errors.New("scheduler: 周期函数不能为空")
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cfg:    cfg,
		clock:  clock,
		run:    run,
		logger: logger,
	}, nil
}

// TryRunCycle 尝试启动一次周期。已有周期在运行时返回 false 且不执行。
// 周期在 cycle_timeout 截止时间内运行，超时由周期内部处理并落账。
func (s *Scheduler) TryRunCycle(ctx context.Context) (bool, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("上一周期仍在运行，本次触发跳过")
		return false, nil
	}
	defer s.busy.Store(false)

	cycleCtx := ctx
	if s.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.cfg.CycleTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	err := s.run(cycleCtx)
	elapsed := s.clock.Now().Sub(start)

	if err != nil {
		s.logger.Error("交易周期失败",
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return true, err
	}

	s.logger.Info("交易周期结束", zap.Duration("elapsed", elapsed))
	return true, nil
}

// Run 启动调度循环：立即执行一次，之后按 cycle_interval 触发，直到上下文取消。
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.TryRunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("首次周期执行失败", zap.Error(err))
	}

	ticker := s.clock.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("调度器异常退出: %w", err)
			}
			s.logger.Info("调度器收到退出信号，正在停止")
			return nil
		case <-ticker.C():
			if _, err := s.TryRunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("周期执行失败", zap.Error(err))
			}
		}
	}
}
