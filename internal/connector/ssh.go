package connector

import (
	"context"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/remote"
)

// sshConn 基于 SSH 的连接器公共部分
type sshConn struct {
	cfg     config.Connector
	dialer  remote.Dialer
	session remote.Session
	logger  *logrus.Entry
}

func newSSHConn(cfg config.Connector, dialer remote.Dialer, logger *logrus.Entry) sshConn {
	return sshConn{
		cfg:    cfg,
		dialer: dialer,
		logger: logger.WithFields(logrus.Fields{"connector": cfg.Name, "host": cfg.Hostname}),
	}
}

func (c *sshConn) Name() string {
	return c.cfg.Name
}

func (c *sshConn) Connected() bool {
	return c.session != nil
}

// open 建立连接；已连接时直接返回 false
func (c *sshConn) open(ctx context.Context) (bool, error) {
	if c.session != nil {
		c.logger.Debug("SSH 连接已存在")
		return false, nil
	}

	c.logger.Infof("建立 SSH 连接, 用户 %s", c.cfg.Username)
	session, err := c.dialer.Start(ctx, remote.Target{
		Host:    c.cfg.Hostname,
		User:    c.cfg.Username,
		Port:    c.cfg.Port,
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return false, &Error{Connector: c.cfg.Name, Op: "连接", Err: err}
	}
	c.session = session
	return true, nil
}

func (c *sshConn) Disconnect() error {
	if c.session == nil {
		return nil
	}
	c.logger.Info("关闭 SSH 连接")
	err := c.session.Close()
	c.session = nil
	return err
}

// exec 执行远程命令并检查是否输出 success
func (c *sshConn) exec(ctx context.Context, command string) (bool, string, error) {
	if c.session == nil {
		return false, "", ErrNotConnected
	}
	c.logger.Debugf("执行: %s", command)
	out, err := c.session.Exec(ctx, command)
	if err != nil {
		return false, out, err
	}
	return succeeded(out), out, nil
}
