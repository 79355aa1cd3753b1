package connector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"acme-distributed/internal/authority"
)

// ErrNotConnected 连接器尚未连接
var ErrNotConnected = errors.New("未连接")

var (
	namePattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	contentPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-=.]+$`)
)

// Connector 把验证文件或记录放置到远程目标的后端
type Connector interface {
	Name() string
	// Type 连接器能完成的验证方式
	Type() authority.ChallengeType

	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool

	// CreateChallenge 放置验证内容并记录下来以便清理
	CreateChallenge(ctx context.Context, subject, name, content string) error
	// RemoveChallenge 删除一条验证内容，失败时返回 false
	RemoveChallenge(ctx context.Context, ref string) bool
	// RemoveAllChallenges 删除所有已记录的验证内容，返回失败数量
	RemoveAllChallenges(ctx context.Context) int
}

// Error 连接器操作失败
type Error struct {
	Connector string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("连接器 %s %s失败: %v", e.Connector, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError 判断是否为连接器错误
func IsError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// validateFulfillment 在执行任何远程命令之前检查 name 和 content
func validateFulfillment(name, content string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("验证名称格式错误: %q", name)
	}
	if !contentPattern.MatchString(content) {
		return fmt.Errorf("验证内容格式错误: %q", content)
	}
	return nil
}

// quote 生成单引号包裹的 shell 参数
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// succeeded 远程命令以 echo -n success 结尾
func succeeded(out string) bool {
	return strings.TrimSpace(out) == "success"
}
