package core

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/expand"
)

// Executor 命令执行器
type Executor struct {
	logger *logrus.Entry
}

// NewExecutor 创建执行器
func NewExecutor(logger *logrus.Entry) *Executor {
	return &Executor{logger: logger}
}

// RunPostCommand 替换变量后通过 sh -c 执行后置命令
func (e *Executor) RunPostCommand(ctx context.Context, command string, vars map[string]string) error {
	if command == "" {
		return nil
	}

	command = expand.Expand(command, vars)
	e.logger.Infof("执行后置命令: %s", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	if output := strings.TrimSpace(string(out)); output != "" {
		e.logger.Info(output)
	}
	if err != nil {
		return fmt.Errorf("执行命令失败: %w", err)
	}

	e.logger.Info("后置命令执行成功")
	return nil
}

// BuildVars 构建后置命令可用的变量
func (e *Executor) BuildVars(cert config.Certificate, endpoint string) map[string]string {
	return map[string]string{
		"name":     cert.Name,
		"subject":  cert.Subject,
		"path":     cert.Path,
		"key":      cert.Key,
		"endpoint": endpoint,
	}
}
