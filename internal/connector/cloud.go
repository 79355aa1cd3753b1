package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/provider"
	"acme-distributed/internal/retry"
)

// txtRecord 等待生效的 TXT 记录
type txtRecord struct {
	fqdn  string
	value string
}

// CloudDNS 通过云平台 DNS API 放置 dns-01 验证记录
type CloudDNS struct {
	cfg     config.Connector
	factory func() (provider.DNSProvider, error)
	dns     provider.DNSProvider
	logger  *logrus.Entry

	checker TXTChecker
	clock   retry.Clock

	// 记录ID -> 所属域名
	records map[string]string
	order   []string
	// 尚未确认生效的记录
	unconfirmed []txtRecord
}

// NewCloudDNS 创建云 DNS 连接器，连接时才调用 factory 创建 SDK 客户端
func NewCloudDNS(cfg config.Connector, factory func() (provider.DNSProvider, error), logger *logrus.Entry) *CloudDNS {
	return &CloudDNS{
		cfg:     cfg,
		factory: factory,
		logger:  logger.WithFields(logrus.Fields{"connector": cfg.Name, "kind": cfg.Kind}),
		checker: AuthoritativeChecker{},
		clock:   retry.SystemClock{},
		records: make(map[string]string),
	}
}

// WithPropagation 替换生效检查方式和时钟，nil 保持不变
func (c *CloudDNS) WithPropagation(checker TXTChecker, clock retry.Clock) *CloudDNS {
	if checker != nil {
		c.checker = checker
	}
	if clock != nil {
		c.clock = clock
	}
	return c
}

// Name 返回连接器名称
func (c *CloudDNS) Name() string {
	return c.cfg.Name
}

// Type 返回 dns-01
func (c *CloudDNS) Type() authority.ChallengeType {
	return authority.DNS01
}

// Connect 创建云平台客户端
func (c *CloudDNS) Connect(ctx context.Context) error {
	if c.dns != nil {
		return nil
	}
	dns, err := c.factory()
	if err != nil {
		return &Error{Connector: c.cfg.Name, Op: "连接", Err: err}
	}
	c.logger.Infof("已创建 %s DNS 客户端", dns.Name())
	c.dns = dns
	return nil
}

// Disconnect 释放客户端
func (c *CloudDNS) Disconnect() error {
	c.dns = nil
	return nil
}

// Connected 是否已创建客户端
func (c *CloudDNS) Connected() bool {
	return c.dns != nil
}

// CreateChallenge 添加 TXT 记录 <name>.<subject>
func (c *CloudDNS) CreateChallenge(ctx context.Context, subject, name, content string) error {
	if c.dns == nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: ErrNotConnected}
	}
	if err := validateFulfillment(name, content); err != nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: err}
	}

	rr := name + "." + subject
	id, err := c.dns.AddRecord(ctx, subject, rr, "TXT", content)
	if err != nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: err}
	}

	c.logger.WithField("subject", subject).Debugf("创建验证记录 %s (ID=%s)", rr, id)
	c.records[id] = subject
	c.order = append(c.order, id)
	c.unconfirmed = append(c.unconfirmed, txtRecord{fqdn: rr, value: content})
	return nil
}

// Wait 轮询直到本连接器新建的全部 TXT 记录生效，超过 PropagationTimeout 返回错误
func (c *CloudDNS) Wait(ctx context.Context) error {
	if len(c.unconfirmed) == 0 {
		return nil
	}

	timeout, interval := c.cfg.PropagationTimeout, c.cfg.PropagationInterval
	if timeout <= 0 {
		timeout = config.DefaultPropagationTimeout * time.Second
	}
	if interval <= 0 {
		interval = config.DefaultPropagationInterval * time.Second
	}
	c.logger.Infof("等待 %d 条 TXT 记录生效 (超时 %s, 间隔 %s)", len(c.unconfirmed), timeout, interval)

	var lastErr error
	confirm := func(ctx context.Context) {
		var left []txtRecord
		for _, r := range c.unconfirmed {
			ok, err := c.checker.Propagated(ctx, r.fqdn, r.value)
			if err != nil {
				lastErr = err
				c.logger.Debugf("检查记录 %s: %v", r.fqdn, err)
			}
			if !ok {
				left = append(left, r)
			}
		}
		c.unconfirmed = left
	}

	confirm(ctx)
	poller := retry.Poller{Clock: c.clock, Interval: interval, MaxAttempts: max(int(timeout/interval), 1)}
	err := poller.Until(ctx, func() bool {
		return len(c.unconfirmed) > 0
	}, func(ctx context.Context) error {
		confirm(ctx)
		return nil
	})
	if errors.Is(err, retry.ErrPollLimit) {
		err = fmt.Errorf("%d 条记录在 %s 内未生效 (首条 %s)", len(c.unconfirmed), timeout, c.unconfirmed[0].fqdn)
		if lastErr != nil {
			err = fmt.Errorf("%w: %v", err, lastErr)
		}
	}
	if err != nil {
		return &Error{Connector: c.cfg.Name, Op: "等待记录生效", Err: err}
	}
	c.logger.Info("TXT 记录已生效")
	return nil
}

// RemoveChallenge 按记录ID删除
func (c *CloudDNS) RemoveChallenge(ctx context.Context, ref string) bool {
	if c.dns == nil {
		c.logger.Warnf("删除记录 %s 失败: %v", ref, ErrNotConnected)
		return false
	}
	subject, ok := c.records[ref]
	if !ok {
		c.logger.Warnf("删除记录 %s 失败: %v", ref, fmt.Errorf("未知的记录"))
		return false
	}
	if err := c.dns.DeleteRecord(ctx, subject, ref); err != nil {
		c.logger.Warnf("删除记录 %s 失败: %v", ref, err)
		return false
	}
	delete(c.records, ref)
	return true
}

// RemoveAllChallenges 删除本连接器创建的全部记录
func (c *CloudDNS) RemoveAllChallenges(ctx context.Context) int {
	failed := 0
	for _, id := range c.order {
		if !c.RemoveChallenge(ctx, id) {
			failed++
		}
	}
	c.order = nil
	c.records = make(map[string]string)
	c.unconfirmed = nil
	return failed
}
