package scheduler

import "time"

// Clock 抽象时间来源，测试时可注入假时钟驱动周期。
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker 抽象周期信号源。
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock 使用系统时间。
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
