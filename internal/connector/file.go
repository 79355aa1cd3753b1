package connector

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/remote"
)

// RemoteFile 通过 SSH 在 Web 服务器的 acme_path 下放置 http-01 验证文件
type RemoteFile struct {
	sshConn
	challenges []string
}

// NewRemoteFile 创建文件连接器
func NewRemoteFile(cfg config.Connector, dialer remote.Dialer, logger *logrus.Entry) *RemoteFile {
	return &RemoteFile{sshConn: newSSHConn(cfg, dialer, logger)}
}

// Type 返回 http-01
func (c *RemoteFile) Type() authority.ChallengeType {
	return authority.HTTP01
}

// Connect 建立连接并确认 acme_path 可写
func (c *RemoteFile) Connect(ctx context.Context) error {
	opened, err := c.open(ctx)
	if err != nil || !opened {
		return err
	}

	marker := path.Join(c.cfg.AcmePath, ".write-check-"+uuid.NewString())
	ok, out, err := c.exec(ctx, fmt.Sprintf("echo -n check > %s && rm -f %s && echo -n success", quote(marker), quote(marker)))
	if err == nil && !ok {
		err = fmt.Errorf("目录 %s 不可写: %s", c.cfg.AcmePath, strings.TrimSpace(out))
	}
	if err != nil {
		c.Disconnect()
		return &Error{Connector: c.cfg.Name, Op: "检查目录", Err: err}
	}
	return nil
}

// CreateChallenge 写入验证文件，name 为 token，content 为 key authorization
func (c *RemoteFile) CreateChallenge(ctx context.Context, subject, name, content string) error {
	if !c.Connected() {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: ErrNotConnected}
	}
	if err := validateFulfillment(name, content); err != nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: err}
	}

	file := path.Join(c.cfg.AcmePath, name)
	c.logger.WithField("subject", subject).Debugf("创建验证文件 %s", file)

	ok, out, err := c.exec(ctx, fmt.Sprintf("echo %s > %s && echo -n success", quote(content), quote(file)))
	if err == nil && !ok {
		err = fmt.Errorf("远程命令失败: %s", strings.TrimSpace(out))
	}
	if err != nil {
		return &Error{Connector: c.cfg.Name, Op: "创建验证", Err: err}
	}

	c.challenges = append(c.challenges, file)
	return nil
}

// RemoveChallenge 删除验证文件
func (c *RemoteFile) RemoveChallenge(ctx context.Context, ref string) bool {
	c.logger.Debugf("删除验证文件 %s", ref)
	ok, out, err := c.exec(ctx, fmt.Sprintf("test -f %s && rm -f %s && echo -n success", quote(ref), quote(ref)))
	if err != nil {
		c.logger.Warnf("删除验证文件 %s 失败: %v", ref, err)
		return false
	}
	if !ok {
		c.logger.Warnf("删除验证文件 %s 失败: %s", ref, strings.TrimSpace(out))
	}
	return ok
}

// RemoveAllChallenges 删除本连接器创建的全部验证文件
func (c *RemoteFile) RemoveAllChallenges(ctx context.Context) int {
	failed := 0
	for _, file := range c.challenges {
		if !c.RemoveChallenge(ctx, file) {
			failed++
		}
	}
	c.challenges = nil
	return failed
}
