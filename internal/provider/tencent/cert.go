package tencent

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ssl "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ssl/v20191205"

	"acme-distributed/internal/config"
	"acme-distributed/internal/provider"
)

// CertUploader 腾讯云SSL证书服务
type CertUploader struct {
	client *ssl.Client
	logger *logrus.Entry
}

// NewCertUploader 创建腾讯云证书上传器
func NewCertUploader(cfg *config.TencentConfig, logger *logrus.Entry) (*CertUploader, error) {
	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "ssl.tencentcloudapi.com"

	region := cfg.Region
	if region == "" {
		region = "ap-guangzhou"
	}

	client, err := ssl.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云SSL客户端失败: %w", err)
	}

	return &CertUploader{client: client, logger: logger.WithField("provider", provider.Tencent)}, nil
}

// Name 返回提供商名称
func (p *CertUploader) Name() string {
	return provider.Tencent
}

// UploadCertificate 上传证书
func (p *CertUploader) UploadCertificate(ctx context.Context, cert *provider.Certificate) (string, error) {
	p.logger.Infof("上传证书 %s", cert.Name)

	request := ssl.NewUploadCertificateRequest()
	request.SetContext(ctx)
	request.CertificatePublicKey = common.StringPtr(cert.Certificate)
	request.CertificatePrivateKey = common.StringPtr(cert.PrivateKey)
	request.CertificateType = common.StringPtr("SVR")
	request.Alias = common.StringPtr(cert.Name)

	response, err := p.client.UploadCertificate(request)
	if err != nil {
		return "", fmt.Errorf("上传证书失败: %w", err)
	}
	if response.Response == nil || response.Response.CertificateId == nil {
		return "", fmt.Errorf("上传证书失败: 未返回证书ID")
	}

	certID := *response.Response.CertificateId
	p.logger.Infof("证书已上传, CertID=%s", certID)
	return certID, nil
}
