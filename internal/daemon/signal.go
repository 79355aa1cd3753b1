package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// SignalHandler 信号处理器
type SignalHandler struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry
	stop   chan struct{}
}

// NewSignalHandler 创建信号处理器
func NewSignalHandler(parent context.Context, logger *logrus.Entry) *SignalHandler {
	ctx, cancel := context.WithCancel(parent)
	return &SignalHandler{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Context 返回收到信号后取消的 context
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// Start 开始监听 SIGINT 和 SIGTERM
func (h *SignalHandler) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			h.logger.Warnf("收到信号 %v，正在退出，已创建的验证内容仍会被删除...", sig)
			h.cancel()
		case <-h.stop:
		}
	}()
}

// Stop 停止监听并释放 context
func (h *SignalHandler) Stop() {
	close(h.stop)
	h.cancel()
}
