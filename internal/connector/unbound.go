package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/domain"
	"acme-distributed/internal/remote"
)

// unboundTTL 验证记录的 TTL（秒）
const unboundTTL = 5

// Unbound 通过 SSH 执行 unbound-control 放置 dns-01 验证记录
//
// 删除时会移除该名称下的全部记录，包括不是本程序创建的记录。
type Unbound struct {
	sshConn
	challenges []string
}

// NewUnbound 创建 unbound 连接器
func NewUnbound(cfg config.Connector, dialer remote.Dialer, logger *logrus.Entry) *Unbound {
	return &Unbound{sshConn: newSSHConn(cfg, dialer, logger)}
}

// Type 返回 dns-01
func (c *Unbound) Type() authority.ChallengeType {
	return authority.DNS01
}

// Connect 建立连接并确认 unbound_ctrl 可以执行
func (c *Unbound) Connect(ctx context.Context) error {
	opened, err := c.open(ctx)
	if err != nil || !opened {
		return err
	}

	ctrl := quote(c.cfg.UnboundCtrl)
	ok, out, err := c.exec(ctx, fmt.Sprintf("test -x %s && %s list_local_zones >/dev/null && echo -n success", ctrl, ctrl))
	if err == nil && !ok {
		err = fmt.Errorf("无法执行 %s: %s", c.cfg.UnboundCtrl, strings.TrimSpace(out))
	}
	if err != nil {
		c.Disconnect()
		return &Error{Connector: c.cfg.Name, Op: "检查 unbound-control", Err: err}
	}
	return nil
}

// CreateChallenge 添加 TXT 记录 <name>.<subject>
func (c *Unbound) CreateChallenge(ctx context.Context, subject, name, content string) error {
	if !c.Connected() {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: ErrNotConnected}
	}
	if err := validateFulfillment(name, content); err != nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: err}
	}
	if !domain.ValidHostname(subject) || strings.HasPrefix(subject, "*.") {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: fmt.Errorf("无效的域名: %q", subject)}
	}

	record := name + "." + strings.ToLower(subject)
	c.logger.WithField("subject", subject).Debugf("创建验证记录 %s", record)

	ok, out, err := c.exec(ctx, fmt.Sprintf("%s local_data %s. %d IN TXT %s >/dev/null && echo -n success",
		quote(c.cfg.UnboundCtrl), record, unboundTTL, content))
	if err == nil && !ok {
		err = fmt.Errorf("远程命令失败: %s", strings.TrimSpace(out))
	}
	if err != nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: err}
	}

	c.challenges = append(c.challenges, record)
	return nil
}

// RemoveChallenge 删除该名称下的全部记录
func (c *Unbound) RemoveChallenge(ctx context.Context, ref string) bool {
	if !domain.ValidHostname(ref) {
		c.logger.Warnf("拒绝删除无效的记录名 %q", ref)
		return false
	}
	c.logger.Debugf("删除验证记录 %s", ref)
	ok, out, err := c.exec(ctx, fmt.Sprintf("%s local_data_remove %s >/dev/null && echo -n success", quote(c.cfg.UnboundCtrl), ref))
	if err != nil {
		c.logger.Warnf("删除验证记录 %s 失败: %v", ref, err)
		return false
	}
	if !ok {
		c.logger.Warnf("删除验证记录 %s 失败: %s", ref, strings.TrimSpace(out))
	}
	return ok
}

// RemoveAllChallenges 删除本连接器创建的全部记录
func (c *Unbound) RemoveAllChallenges(ctx context.Context) int {
	failed := 0
	for _, record := range c.challenges {
		if !c.RemoveChallenge(ctx, record) {
			failed++
		}
	}
	c.challenges = nil
	return failed
}
