package provider

import "context"

// DNSProvider DNS提供商接口
type DNSProvider interface {
	// Name 返回提供商名称
	Name() string

	// AddRecord 添加DNS记录，返回记录ID
	// domain: 记录所属域名 (如 www.example.com)
	// rr: 完整记录名 (如 _acme-challenge.www.example.com)
	// recordType: 记录类型 (如 TXT)
	// value: 记录值
	AddRecord(ctx context.Context, domain, rr, recordType, value string) (string, error)

	// DeleteRecord 删除DNS记录
	DeleteRecord(ctx context.Context, domain, recordID string) error
}
