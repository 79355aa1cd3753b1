package authority

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-acme/lego/v4/acme"
)

// ErrTimeout 颁发机构瞬时超时
var ErrTimeout = errors.New("证书颁发机构请求超时")

// IsTimeout 判断错误是否为可重试的瞬时超时
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var problem *acme.ProblemDetails
	if errors.As(err, &problem) {
		return problem.HTTPStatus == http.StatusGatewayTimeout
	}

	// lego 在部分路径上只保留了错误文本
	msg := err.Error()
	return strings.Contains(msg, "Timeout exceeded") || strings.Contains(msg, "i/o timeout")
}
