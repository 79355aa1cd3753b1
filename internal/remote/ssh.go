package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHDialer 基于 golang.org/x/crypto/ssh 的非交互式连接
type SSHDialer struct {
	// IdentityFile 私钥文件，为空时只使用 ssh-agent
	IdentityFile string

	// KnownHostsFile 为空时使用 ~/.ssh/known_hosts
	KnownHostsFile string

	// InsecureIgnoreHostKey 跳过主机密钥校验
	InsecureIgnoreHostKey bool

	// DisableAgent 不使用 SSH_AUTH_SOCK
	DisableAgent bool

	Logger *logrus.Entry
}

// Start 建立 SSH 连接
func (d *SSHDialer) Start(ctx context.Context, target Target) (Session, error) {
	port := target.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	auth, closeAgent, err := d.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey, err := d.hostKeyCallback()
	if err != nil {
		closeAgent()
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("连接 %s 失败: %w", addr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		closeAgent()
		return nil, fmt.Errorf("SSH 握手失败 (%s@%s): %w", target.User, addr, err)
	}

	d.logger().WithField("host", addr).Debug("SSH 连接已建立")
	return &sshSession{client: ssh.NewClient(c, chans, reqs), closeAgent: closeAgent}, nil
}

func (d *SSHDialer) logger() *logrus.Entry {
	if d.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return d.Logger
}

func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if !d.DisableAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				d.logger().Warnf("无法连接 ssh-agent: %v", err)
			} else {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				closeAgent = func() { conn.Close() }
			}
		}
	}

	if d.IdentityFile != "" {
		key, err := os.ReadFile(d.IdentityFile)
		if err != nil {
			closeAgent()
			return nil, nil, fmt.Errorf("读取 SSH 私钥失败: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			closeAgent()
			return nil, nil, fmt.Errorf("解析 SSH 私钥失败: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		return nil, nil, errors.New("没有可用的 SSH 认证方式 (ssh-agent 或 identity_file)")
	}
	return methods, closeAgent, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := d.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("无法定位 known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("加载 known_hosts 失败: %w", err)
	}
	return cb, nil
}

type sshSession struct {
	client     *ssh.Client
	closeAgent func()
}

func (s *sshSession) Exec(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("创建 SSH 会话失败: %w", err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(r.err, &exitErr) {
				// 非零退出码时输出仍然有意义，交给调用方判断
				return string(r.out), nil
			}
			return string(r.out), r.err
		}
		return string(r.out), nil
	}
}

func (s *sshSession) Close() error {
	defer s.closeAgent()
	return s.client.Close()
}
