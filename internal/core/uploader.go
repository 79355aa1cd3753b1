package core

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/provider"
	"acme-distributed/internal/provider/aliyun"
	"acme-distributed/internal/provider/tencent"
)

// Uploaders 按名称创建并缓存证书上传器
type Uploaders struct {
	providers config.ProvidersConfig
	logger    *logrus.Entry

	// 缓存已创建的上传器实例
	uploaders map[string]provider.CertUploader
}

// NewUploaders 创建上传器工厂
func NewUploaders(providers config.ProvidersConfig, logger *logrus.Entry) *Uploaders {
	return &Uploaders{
		providers: providers,
		logger:    logger,
		uploaders: make(map[string]provider.CertUploader),
	}
}

// Get 获取证书上传器
func (u *Uploaders) Get(name string) (provider.CertUploader, error) {
	if p, ok := u.uploaders[name]; ok {
		return p, nil
	}

	var p provider.CertUploader
	var err error

	switch name {
	case provider.Aliyun:
		if u.providers.Aliyun == nil {
			return nil, fmt.Errorf("阿里云证书提供商未配置")
		}
		p, err = aliyun.NewCertUploader(u.providers.Aliyun, u.logger)

	case provider.Tencent:
		if u.providers.Tencent == nil {
			return nil, fmt.Errorf("腾讯云证书提供商未配置")
		}
		p, err = tencent.NewCertUploader(u.providers.Tencent, u.logger)

	default:
		return nil, fmt.Errorf("不支持的证书提供商: %s", name)
	}

	if err != nil {
		return nil, err
	}

	u.uploaders[name] = p
	return p, nil
}
