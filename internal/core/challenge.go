package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/sirupsen/logrus"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/connector"
	"acme-distributed/internal/retry"
	"acme-distributed/internal/storage"
)

// 轮询间隔
var (
	ValidationInterval = 2 * time.Second
	OrderInterval      = 1 * time.Second
)

// State 验证流程状态
type State int

const (
	StateNew State = iota
	StateAuthorized
	StateValidating
	StateValid
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateAuthorized:
		return "AUTHORIZED"
	case StateValidating:
		return "VALIDATING"
	case StateValid:
		return "VALID"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Orchestrator 保存创建验证流程所需的共享依赖
type Orchestrator struct {
	Client authority.Client
	Policy *retry.Policy
	Clock  retry.Clock
	// PollLimit 单次轮询的最大次数，0 为不限
	PollLimit int
	Logger    *logrus.Entry
}

// NewChallenge 为证书创建新的验证流程，typ 为连接器组的验证方式
func (o *Orchestrator) NewChallenge(cert config.Certificate, typ authority.ChallengeType) *Challenge {
	clock := o.Clock
	if clock == nil {
		clock = retry.SystemClock{}
	}
	return &Challenge{
		cert:      cert,
		typ:       typ,
		client:    o.Client,
		policy:    o.Policy,
		clock:     clock,
		pollLimit: o.PollLimit,
		logger:    o.Logger.WithField("certificate", cert.Name),
		state:     StateNew,
	}
}

// Challenge 一个证书在一次运行中的验证流程，不会持久化
type Challenge struct {
	cert      config.Certificate
	typ       authority.ChallengeType
	client    authority.Client
	policy    *retry.Policy
	clock     retry.Clock
	pollLimit int
	logger    *logrus.Entry

	state          State
	order          authority.Order
	authorizations []authority.Authorization

	// 成功创建过验证内容的连接器，不重复
	cleanup []connector.Connector
}

// State 返回当前状态
func (c *Challenge) State() State {
	return c.state
}

// Authorizations 返回颁发机构下发的授权
func (c *Challenge) Authorizations() []authority.Authorization {
	return c.authorizations
}

func (c *Challenge) fail(phase string, err error) error {
	c.state = StateFailed
	return &ChallengeError{Certificate: c.cert.Name, Phase: phase, Err: err}
}

// Start 创建订单并获取每个域名的授权
func (c *Challenge) Start(ctx context.Context) error {
	if c.state != StateNew {
		return &ChallengeError{Certificate: c.cert.Name, Phase: "开始验证", Err: ErrChallengeStarted}
	}

	names := c.cert.Names()
	c.logger.Infof("开始验证, 域名: %s", strings.Join(names, ","))

	err := c.policy.Do(ctx, retry.PhaseOrder, func() error {
		order, err := c.client.NewOrder(ctx, names)
		if err != nil {
			return err
		}
		c.order = order
		return nil
	})
	if err != nil {
		return c.fail("创建订单", err)
	}

	var authzs []authority.Authorization
	err = c.policy.Do(ctx, retry.PhaseAuthorizations, func() error {
		var err error
		authzs, err = c.order.Authorizations(ctx)
		return err
	})
	if err != nil {
		return c.fail("获取授权", err)
	}
	if len(authzs) == 0 {
		return c.fail("获取授权", ErrNoAuthorizations)
	}

	c.authorizations = authzs
	c.state = StateAuthorized
	c.logger.Debugf("需要完成 %d 个授权", len(authzs))
	return nil
}

// Distribute 在每个连接器上为每个授权放置验证内容，返回成功创建的数量。
// 单个连接器失败只记录日志，该连接器不参与清理
func (c *Challenge) Distribute(ctx context.Context, conns []connector.Connector) (int, error) {
	if c.state != StateAuthorized {
		return 0, &ChallengeError{Certificate: c.cert.Name, Phase: "分发验证", Err: fmt.Errorf("状态错误: %s", c.state)}
	}
	c.state = StateValidating

	inCleanup := make(map[connector.Connector]bool, len(conns))
	created := 0
	for _, authz := range c.authorizations {
		logger := c.logger.WithField("subject", authz.Subject())
		ch, ok := authz.Challenge(c.typ)
		if !ok {
			logger.Errorf("颁发机构未提供 %s 验证", c.typ)
			continue
		}
		name, content, err := authority.Fulfillment(ch)
		if err != nil {
			logger.Errorf("%v", err)
			continue
		}

		for _, conn := range conns {
			if err := conn.CreateChallenge(ctx, authz.Subject(), name, content); err != nil {
				logger.Errorf("%v", err)
				continue
			}
			created++
			if !inCleanup[conn] {
				inCleanup[conn] = true
				c.cleanup = append(c.cleanup, conn)
			}
		}
	}
	return created, nil
}

// Await 等待需要传播时间的连接器确认验证内容已生效，之后才能请求验证
func (c *Challenge) Await(ctx context.Context) error {
	if c.state != StateValidating {
		return &ChallengeError{Certificate: c.cert.Name, Phase: "等待生效", Err: fmt.Errorf("状态错误: %s", c.state)}
	}
	for _, conn := range c.cleanup {
		w, ok := conn.(connector.Waiter)
		if !ok {
			continue
		}
		if err := w.Wait(ctx); err != nil {
			return c.fail("等待生效", err)
		}
	}
	return nil
}

// Validate 请求颁发机构验证每个授权并轮询直到结束。
// 超时次数超出预算时放弃剩余授权；是否全部通过由 Valid 判断
func (c *Challenge) Validate(ctx context.Context) error {
	if c.state != StateValidating {
		return &ChallengeError{Certificate: c.cert.Name, Phase: "验证", Err: fmt.Errorf("状态错误: %s", c.state)}
	}

	for _, authz := range c.authorizations {
		ch, ok := authz.Challenge(c.typ)
		if !ok {
			continue
		}
		logger := c.logger.WithField("subject", authz.Subject())

		if err := c.policy.Do(ctx, retry.PhaseValidation, func() error { return ch.RequestValidation(ctx) }); err != nil {
			return &ChallengeError{Certificate: c.cert.Name, Phase: "请求验证", Err: err}
		}

		tracker := c.policy.Tracker(retry.PhaseValidationPoll)
		poller := retry.Poller{Clock: c.clock, Interval: ValidationInterval, MaxAttempts: c.pollLimit}
		err := poller.Until(ctx, func() bool {
			return pending(ch.Status())
		}, func(ctx context.Context) error {
			return tracker.Observe(ch.Reload(ctx))
		})
		if err != nil {
			return &ChallengeError{Certificate: c.cert.Name, Phase: "验证", Err: fmt.Errorf("%s: %w", authz.Subject(), err)}
		}
		logger.Debugf("验证状态: %s (超时 %d 次)", ch.Status(), tracker.Timeouts())
	}
	return nil
}

// pending 颁发机构仍在处理验证
func pending(status string) bool {
	return status == authority.StatusPending || status == authority.StatusProcessing
}

// Valid 所有授权都已通过验证
func (c *Challenge) Valid() bool {
	if len(c.authorizations) == 0 {
		return false
	}
	for _, authz := range c.authorizations {
		ch, ok := authz.Challenge(c.typ)
		if !ok || ch.Status() != authority.StatusValid {
			return false
		}
	}
	return true
}

// Cleanup 删除所有已创建的验证内容，每个连接器只调用一次，返回删除失败的数量。
// 即使 ctx 已取消也会执行
func (c *Challenge) Cleanup(ctx context.Context) int {
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for _, conn := range c.cleanup {
		n := conn.RemoveAllChallenges(ctx)
		if n > 0 {
			c.logger.Warnf("连接器 %s 有 %d 个验证内容删除失败", conn.Name(), n)
		}
		failed += n
	}
	c.cleanup = nil
	return failed
}

// Finalize 提交 CSR，等待签发后把证书写入 PEM 路径
func (c *Challenge) Finalize(ctx context.Context) ([]byte, error) {
	if !c.Valid() {
		return nil, c.fail("签发", ErrNotValid)
	}

	key, err := storage.LoadKey(c.cert.Key)
	if err != nil {
		return nil, c.fail("签发", err)
	}
	names := c.cert.Names()
	csr, err := certcrypto.GenerateCSR(key, names[0], names, false)
	if err != nil {
		return nil, c.fail("签发", fmt.Errorf("生成 CSR 失败: %w", err))
	}

	if err := c.policy.Do(ctx, retry.PhaseFinalize, func() error { return c.order.Finalize(ctx, csr) }); err != nil {
		return nil, c.fail("提交 CSR", err)
	}

	tracker := c.policy.Tracker(retry.PhaseOrderPoll)
	poller := retry.Poller{Clock: c.clock, Interval: OrderInterval, MaxAttempts: c.pollLimit}
	err = poller.Until(ctx, func() bool {
		return pending(c.order.Status())
	}, func(ctx context.Context) error {
		return tracker.Observe(c.order.Reload(ctx))
	})
	if err != nil {
		return nil, c.fail("等待签发", err)
	}
	c.logger.Debugf("订单状态: %s (超时 %d 次)", c.order.Status(), tracker.Timeouts())
	if status := c.order.Status(); status != authority.StatusValid {
		return nil, c.fail("签发", fmt.Errorf("订单状态为 %s", status))
	}

	var pem []byte
	err = c.policy.Do(ctx, retry.PhaseCertificate, func() error {
		var err error
		pem, err = c.order.Certificate(ctx)
		return err
	})
	if err != nil {
		return nil, c.fail("下载证书", err)
	}

	c.logger.Infof("写入证书 %s", c.cert.Path)
	if err := storage.SaveCertificate(c.cert.Path, pem); err != nil {
		return nil, c.fail("保存证书", err)
	}
	c.state = StateValid
	return pem, nil
}
