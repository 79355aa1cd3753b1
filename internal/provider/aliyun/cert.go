package aliyun

import (
	"context"
	"fmt"

	cas "github.com/alibabacloud-go/cas-20200407/v3/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/provider"
)

// CertUploader 阿里云数字证书管理服务
type CertUploader struct {
	client *cas.Client
	logger *logrus.Entry
}

// NewCertUploader 创建阿里云证书上传器
func NewCertUploader(cfg *config.AliyunConfig, logger *logrus.Entry) (*CertUploader, error) {
	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String("cas.aliyuncs.com"),
	}

	client, err := cas.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云CAS客户端失败: %w", err)
	}

	return &CertUploader{client: client, logger: logger.WithField("provider", provider.Aliyun)}, nil
}

// Name 返回提供商名称
func (p *CertUploader) Name() string {
	return provider.Aliyun
}

// UploadCertificate 上传证书
func (p *CertUploader) UploadCertificate(ctx context.Context, cert *provider.Certificate) (string, error) {
	p.logger.Infof("上传证书 %s", cert.Name)

	request := &cas.UploadUserCertificateRequest{
		Name: tea.String(cert.Name),
		Cert: tea.String(cert.Certificate),
		Key:  tea.String(cert.PrivateKey),
	}

	response, err := p.client.UploadUserCertificate(request)
	if err != nil {
		return "", fmt.Errorf("上传证书失败: %w", err)
	}
	if response.Body == nil {
		return "", fmt.Errorf("上传证书失败: 响应为空")
	}

	certID := fmt.Sprintf("%d", tea.Int64Value(response.Body.CertId))
	p.logger.Infof("证书已上传, CertID=%s", certID)
	return certID, nil
}
