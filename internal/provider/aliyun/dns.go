package aliyun

import (
	"context"
	"fmt"

	alidns "github.com/alibabacloud-go/alidns-20150109/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/domain"
	"acme-distributed/internal/provider"
)

// recordTTL 阿里云允许的最小TTL（免费版）
const recordTTL = 600

// DNSProvider 阿里云DNS提供商
type DNSProvider struct {
	client *alidns.Client
	logger *logrus.Entry
}

// NewDNSProvider 创建阿里云DNS提供商
func NewDNSProvider(cfg *config.AliyunConfig, logger *logrus.Entry) (*DNSProvider, error) {
	endpoint := "alidns.cn-hangzhou.aliyuncs.com"
	if cfg.Region != "" {
		endpoint = fmt.Sprintf("alidns.%s.aliyuncs.com", cfg.Region)
	}

	clientConfig := &openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(endpoint),
	}

	client, err := alidns.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("创建阿里云DNS客户端失败: %w", err)
	}

	return &DNSProvider{client: client, logger: logger.WithField("provider", provider.Aliyun)}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return provider.Aliyun
}

// AddRecord 添加DNS记录
func (p *DNSProvider) AddRecord(ctx context.Context, name, rr, recordType, value string) (string, error) {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	p.logger.Debugf("添加记录: %s.%s -> %s (类型: %s)", subDomain, mainDomain, value, recordType)

	request := &alidns.AddDomainRecordRequest{
		DomainName: tea.String(mainDomain),
		RR:         tea.String(subDomain),
		Type:       tea.String(recordType),
		Value:      tea.String(value),
		TTL:        tea.Int64(recordTTL),
	}

	response, err := p.client.AddDomainRecord(request)
	if err != nil {
		return "", fmt.Errorf("添加DNS记录失败: %w", err)
	}
	if response.Body == nil || response.Body.RecordId == nil {
		return "", fmt.Errorf("添加DNS记录失败: 未返回记录ID")
	}

	recordID := tea.StringValue(response.Body.RecordId)
	p.logger.Debugf("记录已添加, ID=%s", recordID)
	return recordID, nil
}

// DeleteRecord 删除DNS记录
func (p *DNSProvider) DeleteRecord(ctx context.Context, name, recordID string) error {
	p.logger.Debugf("删除记录: ID=%s", recordID)

	request := &alidns.DeleteDomainRecordRequest{
		RecordId: tea.String(recordID),
	}

	if _, err := p.client.DeleteDomainRecord(request); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}

	p.logger.Debugf("记录已删除")
	return nil
}
