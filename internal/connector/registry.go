package connector

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/provider"
	"acme-distributed/internal/provider/aliyun"
	"acme-distributed/internal/provider/huawei"
	"acme-distributed/internal/provider/tencent"
	"acme-distributed/internal/remote"
	"acme-distributed/internal/retry"
)

// Deps 创建连接器所需的外部依赖
type Deps struct {
	Dialer    remote.Dialer
	Providers config.ProvidersConfig
	Logger    *logrus.Entry

	// 云 DNS 记录生效检查，为 nil 时分别使用 AuthoritativeChecker 和系统时钟
	Checker TXTChecker
	Clock   retry.Clock
}

// New 根据连接器类型创建实例
func New(cfg config.Connector, deps Deps) (Connector, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	switch cfg.Kind {
	case config.KindSSHHTTPFile:
		if deps.Dialer == nil {
			return nil, errors.New("未配置 SSH 连接")
		}
		return NewRemoteFile(cfg, deps.Dialer, logger), nil

	case config.KindSSHDNSUnbound:
		if deps.Dialer == nil {
			return nil, errors.New("未配置 SSH 连接")
		}
		return NewUnbound(cfg, deps.Dialer, logger), nil

	case config.KindAliyunDNS:
		return NewCloudDNS(cfg, func() (provider.DNSProvider, error) {
			if deps.Providers.Aliyun == nil {
				return nil, errors.New("阿里云DNS提供商未配置")
			}
			return aliyun.NewDNSProvider(deps.Providers.Aliyun, logger)
		}, logger).WithPropagation(deps.Checker, deps.Clock), nil

	case config.KindTencentDNS:
		return NewCloudDNS(cfg, func() (provider.DNSProvider, error) {
			if deps.Providers.Tencent == nil {
				return nil, errors.New("腾讯云DNS提供商未配置")
			}
			return tencent.NewDNSProvider(deps.Providers.Tencent, logger)
		}, logger).WithPropagation(deps.Checker, deps.Clock), nil

	case config.KindHuaweiDNS:
		return NewCloudDNS(cfg, func() (provider.DNSProvider, error) {
			if deps.Providers.Huawei == nil {
				return nil, errors.New("华为云DNS提供商未配置")
			}
			return huawei.NewDNSProvider(deps.Providers.Huawei, logger)
		}, logger).WithPropagation(deps.Checker, deps.Clock), nil

	default:
		return nil, fmt.Errorf("不支持的连接器类型: %s", cfg.Kind)
	}
}
