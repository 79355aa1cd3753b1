package retry

import (
	"context"
	"errors"
	"time"
)

// ErrPollLimit 轮询次数超出上限
var ErrPollLimit = errors.New("轮询次数超出上限")

// Clock 抽象时间，便于测试
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock 使用真实时间
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller 固定间隔轮询
type Poller struct {
	Clock    Clock
	Interval time.Duration
	// MaxAttempts 为 0 时不限制轮询次数
	MaxAttempts int
}

// Until 当 pending 返回 true 时，等待一个间隔后调用 reload，直到 pending 返回 false
func (p Poller) Until(ctx context.Context, pending func() bool, reload func(context.Context) error) error {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	for attempt := 0; pending(); attempt++ {
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return ErrPollLimit
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return err
		}
		if err := reload(ctx); err != nil {
			return err
		}
	}
	return nil
}
