package remote

import (
	"context"
	"time"
)

// DefaultPort 默认 SSH 端口
const DefaultPort = 22

// DefaultTimeout 默认连接超时
const DefaultTimeout = 2 * time.Second

// Target 远程主机
type Target struct {
	Host    string
	User    string
	Port    int
	Timeout time.Duration
}

// Session 远程会话
type Session interface {
	// Exec 执行命令，返回合并后的标准输出和标准错误
	Exec(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer 建立远程会话
type Dialer interface {
	Start(ctx context.Context, target Target) (Session, error)
}
