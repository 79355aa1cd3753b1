package tencent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"

	"acme-distributed/internal/config"
	"acme-distributed/internal/domain"
	"acme-distributed/internal/provider"
)

// recordTTL DNSPod 免费套餐允许的最小TTL
const recordTTL = 600

// DNSProvider 腾讯云DNS提供商 (DNSPod)
type DNSProvider struct {
	client *dnspod.Client
	logger *logrus.Entry
}

// NewDNSProvider 创建腾讯云DNS提供商
func NewDNSProvider(cfg *config.TencentConfig, logger *logrus.Entry) (*DNSProvider, error) {
	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "dnspod.tencentcloudapi.com"

	client, err := dnspod.NewClient(credential, "", cpf)
	if err != nil {
		return nil, fmt.Errorf("创建腾讯云DNSPod客户端失败: %w", err)
	}

	return &DNSProvider{client: client, logger: logger.WithField("provider", provider.Tencent)}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return provider.Tencent
}

// AddRecord 添加DNS记录
func (p *DNSProvider) AddRecord(ctx context.Context, name, rr, recordType, value string) (string, error) {
	mainDomain := domain.ExtractMainDomain(name)
	subDomain := domain.ExtractSubDomain(rr, mainDomain)

	p.logger.Debugf("添加记录: %s.%s -> %s (类型: %s)", subDomain, mainDomain, value, recordType)

	request := dnspod.NewCreateRecordRequest()
	request.SetContext(ctx)
	request.Domain = common.StringPtr(mainDomain)
	request.SubDomain = common.StringPtr(subDomain)
	request.RecordType = common.StringPtr(recordType)
	request.RecordLine = common.StringPtr("默认")
	request.Value = common.StringPtr(value)
	request.TTL = common.Uint64Ptr(recordTTL)

	response, err := p.client.CreateRecord(request)
	if err != nil {
		return "", fmt.Errorf("添加DNS记录失败: %w", err)
	}
	if response.Response == nil || response.Response.RecordId == nil {
		return "", fmt.Errorf("添加DNS记录失败: 未返回记录ID")
	}

	recordID := strconv.FormatUint(*response.Response.RecordId, 10)
	p.logger.Debugf("记录已添加, ID=%s", recordID)
	return recordID, nil
}

// DeleteRecord 删除DNS记录
func (p *DNSProvider) DeleteRecord(ctx context.Context, name, recordID string) error {
	mainDomain := domain.ExtractMainDomain(name)

	p.logger.Debugf("删除记录: ID=%s", recordID)

	id, err := strconv.ParseUint(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("无效的记录ID %q: %w", recordID, err)
	}

	request := dnspod.NewDeleteRecordRequest()
	request.SetContext(ctx)
	request.Domain = common.StringPtr(mainDomain)
	request.RecordId = common.Uint64Ptr(id)

	if _, err := p.client.DeleteRecord(request); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}

	p.logger.Debugf("记录已删除")
	return nil
}
