package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// DefaultBudget 每个端点默认允许的超时重试次数
const DefaultBudget = 10

// Phase 标记与证书颁发机构交互时所处的阶段
type Phase string

const (
	PhaseOrder          Phase = "order creation"
	PhaseAuthorizations Phase = "authorization fetch"
	PhaseValidation     Phase = "validation request"
	PhaseValidationPoll Phase = "validation poll"
	PhaseFinalize       Phase = "order finalization"
	PhaseOrderPoll      Phase = "order poll"
	PhaseCertificate    Phase = "certificate retrieval"
)

// ExhaustedError 重试预算耗尽
type ExhaustedError struct {
	Phase    Phase
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: 超时重试次数已用尽 (%d 次尝试): %v", e.Phase, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Policy 有界重试策略：只重试瞬时超时，其它错误立即失败
type Policy struct {
	budget    int
	transient func(error) bool
	logger    *logrus.Entry
}

// NewPolicy 创建重试策略。budget < 0 时使用默认值
func NewPolicy(budget int, transient func(error) bool, logger *logrus.Entry) *Policy {
	if budget < 0 {
		budget = DefaultBudget
	}
	if transient == nil {
		transient = func(error) bool { return false }
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Policy{budget: budget, transient: transient, logger: logger}
}

// Do 执行 op；遇到瞬时超时立即重试，最多 budget+1 次尝试
func (p *Policy) Do(ctx context.Context, phase Phase, op func() error) error {
	attempts := 0
	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(p.budget)), ctx)

	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if !p.transient(err) {
			return backoff.Permanent(err)
		}
		p.logger.WithField("phase", phase).Debugf("遇到超时，重试 (%d/%d): %v", attempts, p.budget, err)
		return err
	}, b)
	if err == nil {
		return nil
	}
	// 调用方的 ctx 结束不算重试耗尽
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if p.transient(err) {
		return &ExhaustedError{Phase: phase, Attempts: attempts, Err: err}
	}
	return err
}

// Tracker 在一次轮询过程中累计超时次数
func (p *Policy) Tracker(phase Phase) *Tracker {
	return &Tracker{policy: p, phase: phase}
}

// Tracker 累计超时计数器，用于轮询循环
type Tracker struct {
	policy   *Policy
	phase    Phase
	timeouts int
}

// Observe 处理一次调用的结果：
// nil 表示成功或可继续的超时；超出预算返回 ExhaustedError；其它错误原样返回
func (t *Tracker) Observe(err error) error {
	if err == nil {
		return nil
	}
	if !t.policy.transient(err) {
		return err
	}
	t.timeouts++
	t.policy.logger.WithField("phase", t.phase).Debugf("收到超时 #%d，最多允许 %d 次", t.timeouts, t.policy.budget)
	if t.timeouts > t.policy.budget {
		return &ExhaustedError{Phase: t.phase, Attempts: t.timeouts, Err: err}
	}
	return nil
}

// Timeouts 返回已累计的超时次数
func (t *Tracker) Timeouts() int {
	return t.timeouts
}

// IsExhausted 判断错误链中是否包含 ExhaustedError
func IsExhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}
