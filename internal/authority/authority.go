package authority

import (
	"context"

	"github.com/go-acme/lego/v4/acme"
)

// ChallengeType 域名验证方式
type ChallengeType string

const (
	HTTP01 ChallengeType = "http-01"
	DNS01  ChallengeType = "dns-01"
)

// 证书颁发机构返回的状态
const (
	StatusPending    = acme.StatusPending
	StatusProcessing = acme.StatusProcessing
	StatusReady      = acme.StatusReady
	StatusValid      = acme.StatusValid
	StatusInvalid    = acme.StatusInvalid
)

// Client 证书颁发机构客户端
type Client interface {
	// NewOrder 为给定域名创建新订单
	NewOrder(ctx context.Context, names []string) (Order, error)
}

// Order 颁发机构侧的订单，只能由 Client 创建
type Order interface {
	Status() string
	Authorizations(ctx context.Context) ([]Authorization, error)
	Finalize(ctx context.Context, csr []byte) error
	Reload(ctx context.Context) error
	Certificate(ctx context.Context) ([]byte, error)
}

// Authorization 单个域名的授权
type Authorization interface {
	Subject() string
	Status() string
	// Challenge 返回指定类型的验证；颁发机构未提供时 ok 为 false
	Challenge(t ChallengeType) (Challenge, bool)
}

// Challenge 单个验证的句柄
type Challenge interface {
	Type() ChallengeType
	Token() string
	KeyAuthorization() string
	Status() string
	RequestValidation(ctx context.Context) error
	Reload(ctx context.Context) error
}
