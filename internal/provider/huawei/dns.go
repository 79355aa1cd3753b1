package huawei

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	dns "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2"
	dnsModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/model"
	dnsRegion "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/region"
	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/domain"
	"acme-distributed/internal/provider"
)

// recordSetAPI DNSProvider 使用的华为云 DNS 接口
type recordSetAPI interface {
	ListPublicZones(request *dnsModel.ListPublicZonesRequest) (*dnsModel.ListPublicZonesResponse, error)
	ListRecordSetsByZone(request *dnsModel.ListRecordSetsByZoneRequest) (*dnsModel.ListRecordSetsByZoneResponse, error)
	CreateRecordSet(request *dnsModel.CreateRecordSetRequest) (*dnsModel.CreateRecordSetResponse, error)
	ShowRecordSet(request *dnsModel.ShowRecordSetRequest) (*dnsModel.ShowRecordSetResponse, error)
	UpdateRecordSet(request *dnsModel.UpdateRecordSetRequest) (*dnsModel.UpdateRecordSetResponse, error)
	DeleteRecordSet(request *dnsModel.DeleteRecordSetRequest) (*dnsModel.DeleteRecordSetResponse, error)
}

// DNSProvider 华为云DNS提供商。
// 同名同类型只能有一个记录集，多个值合并到同一记录集，记录ID为 <记录集ID>/<值>
type DNSProvider struct {
	client recordSetAPI
	logger *logrus.Entry
}

// NewDNSProvider 创建华为云DNS提供商
func NewDNSProvider(cfg *config.HuaweiConfig, logger *logrus.Entry) (*DNSProvider, error) {
	builder := basic.NewCredentialsBuilder().
		WithAk(cfg.AccessKey).
		WithSk(cfg.SecretKey)
	if cfg.ProjectID != "" {
		builder = builder.WithProjectId(cfg.ProjectID)
	}
	auth := builder.Build()

	region := cfg.Region
	if region == "" {
		region = "cn-north-4"
	}

	regionObj, err := dnsRegion.SafeValueOf(region)
	if err != nil {
		return nil, fmt.Errorf("无效的区域: %s", region)
	}

	client := dns.NewDnsClient(
		dns.DnsClientBuilder().
			WithRegion(regionObj).
			WithCredential(auth).
			Build())

	return &DNSProvider{client: client, logger: logger.WithField("provider", provider.Huawei)}, nil
}

// Name 返回提供商名称
func (p *DNSProvider) Name() string {
	return provider.Huawei
}

// zoneID 查找包含该域名的最长 Zone
func (p *DNSProvider) zoneID(name string) (string, string, error) {
	name = strings.TrimSuffix(name, ".")

	response, err := p.client.ListPublicZones(&dnsModel.ListPublicZonesRequest{})
	if err != nil {
		return "", "", fmt.Errorf("获取Zone列表失败: %w", err)
	}

	var id, zone string
	if response.Zones != nil {
		for _, z := range *response.Zones {
			if z.Name == nil || z.Id == nil {
				continue
			}
			zoneName := strings.TrimSuffix(*z.Name, ".")
			if domain.IsSubDomain(name, zoneName) && len(zoneName) > len(zone) {
				id, zone = *z.Id, zoneName
			}
		}
	}

	if id == "" {
		return "", "", fmt.Errorf("未找到域名 %s 的Zone", name)
	}
	return id, zone, nil
}

// AddRecord 添加DNS记录，已有同名记录集时追加值
func (p *DNSProvider) AddRecord(ctx context.Context, name, rr, recordType, value string) (string, error) {
	zoneID, zone, err := p.zoneID(name)
	if err != nil {
		return "", err
	}

	// 华为云要求完整记录名并以点结尾，TXT 记录值需要加引号
	recordName := strings.TrimSuffix(rr, ".") + "."
	record := quoteValue(recordType, value)

	p.logger.Debugf("添加记录: %s (zone %s) -> %s (类型: %s)", recordName, zone, record, recordType)

	existing, err := p.findRecordSet(zoneID, recordName, recordType)
	if err != nil {
		return "", err
	}
	if existing != nil {
		records := derefRecords(existing.Records)
		if !slices.Contains(records, record) {
			records = append(records, record)
			if err := p.updateRecords(zoneID, *existing.Id, recordName, recordType, records); err != nil {
				return "", fmt.Errorf("添加DNS记录失败: %w", err)
			}
		}
		p.logger.Debugf("记录已追加到记录集 %s", *existing.Id)
		return *existing.Id + "/" + value, nil
	}

	request := &dnsModel.CreateRecordSetRequest{
		ZoneId: zoneID,
		Body: &dnsModel.CreateRecordSetRequestBody{
			Name:    recordName,
			Type:    recordType,
			Records: []string{record},
		},
	}

	response, err := p.client.CreateRecordSet(request)
	if err != nil {
		return "", fmt.Errorf("添加DNS记录失败: %w", err)
	}
	if response.Id == nil {
		return "", fmt.Errorf("添加DNS记录失败: 未返回记录ID")
	}

	p.logger.Debugf("记录已添加, ID=%s", *response.Id)
	return *response.Id + "/" + value, nil
}

// DeleteRecord 从记录集中删除一个值，最后一个值被删除时删除整个记录集
func (p *DNSProvider) DeleteRecord(ctx context.Context, name, recordID string) error {
	p.logger.Debugf("删除记录: ID=%s", recordID)

	zoneID, _, err := p.zoneID(name)
	if err != nil {
		return err
	}

	setID, value, ok := strings.Cut(recordID, "/")
	if !ok {
		return p.deleteRecordSet(zoneID, setID)
	}

	set, err := p.client.ShowRecordSet(&dnsModel.ShowRecordSetRequest{ZoneId: zoneID, RecordsetId: setID})
	if err != nil {
		return fmt.Errorf("查询记录集失败: %w", err)
	}
	recordType := str(set.Type)
	record := quoteValue(recordType, value)

	var remaining []string
	for _, r := range derefRecords(set.Records) {
		if r != record {
			remaining = append(remaining, r)
		}
	}
	if len(remaining) == 0 {
		return p.deleteRecordSet(zoneID, setID)
	}

	if err := p.updateRecords(zoneID, setID, str(set.Name), recordType, remaining); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}
	p.logger.Debugf("记录已从记录集 %s 中删除", setID)
	return nil
}

// findRecordSet 精确查找同名同类型的记录集，不存在时返回 nil
func (p *DNSProvider) findRecordSet(zoneID, recordName, recordType string) (*dnsModel.ListRecordSets, error) {
	mode := "equal"
	response, err := p.client.ListRecordSetsByZone(&dnsModel.ListRecordSetsByZoneRequest{
		ZoneId:     zoneID,
		Name:       &recordName,
		Type:       &recordType,
		SearchMode: &mode,
	})
	if err != nil {
		return nil, fmt.Errorf("查询记录集失败: %w", err)
	}
	if response.Recordsets == nil {
		return nil, nil
	}
	for _, set := range *response.Recordsets {
		if set.Id != nil && str(set.Name) == recordName && str(set.Type) == recordType {
			return &set, nil
		}
	}
	return nil, nil
}

func (p *DNSProvider) updateRecords(zoneID, setID, recordName, recordType string, records []string) error {
	_, err := p.client.UpdateRecordSet(&dnsModel.UpdateRecordSetRequest{
		ZoneId:      zoneID,
		RecordsetId: setID,
		Body: &dnsModel.UpdateRecordSetReq{
			Name:    &recordName,
			Type:    &recordType,
			Records: &records,
		},
	})
	return err
}

func (p *DNSProvider) deleteRecordSet(zoneID, setID string) error {
	request := &dnsModel.DeleteRecordSetRequest{
		ZoneId:      zoneID,
		RecordsetId: setID,
	}
	if _, err := p.client.DeleteRecordSet(request); err != nil {
		return fmt.Errorf("删除DNS记录失败: %w", err)
	}
	p.logger.Debugf("记录集 %s 已删除", setID)
	return nil
}

func quoteValue(recordType, value string) string {
	if recordType == "TXT" && !strings.HasPrefix(value, `"`) {
		return `"` + value + `"`
	}
	return value
}

func derefRecords(records *[]string) []string {
	if records == nil {
		return nil
	}
	return append([]string(nil), *records...)
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
