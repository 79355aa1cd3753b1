package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"acme-distributed/internal/authority"
)

// Config 配置文件结构
type Config struct {
	// 证书颁发机构
	Endpoints Ordered[EndpointConfig] `yaml:"endpoints"`

	// 证书
	Certificates Ordered[CertificateConfig] `yaml:"certificates"`

	// 验证文件/记录的放置目标
	Connectors      Ordered[ConnectorConfig] `yaml:"connectors"`
	ConnectorGroups Ordered[[]string]        `yaml:"connector_groups"`

	Defaults DefaultsConfig `yaml:"defaults"`

	// 云平台凭证配置
	Providers ProvidersConfig `yaml:"providers"`

	// SSH 认证配置
	SSH SSHConfig `yaml:"ssh"`

	// Webhook 通知配置
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`

	PostCommand string `yaml:"post_command"` // 全局后置命令

	// file 配置文件路径
	file string
}

// File 返回配置文件路径
func (c *Config) File() string {
	return c.file
}

// EndpointConfig 证书颁发机构配置
type EndpointConfig struct {
	URL            string `yaml:"url"`
	PrivateKey     string `yaml:"private_key"`
	EmailAddr      string `yaml:"email_addr"`
	TimeoutRetries *int   `yaml:"timeout_retries,omitempty"` // 超时重试次数，默认10
	KeyType        string `yaml:"key_type,omitempty"`        // 账户私钥类型，默认 ec256
	PollLimit      int    `yaml:"poll_limit,omitempty"`      // 轮询次数上限，0 表示不限制
}

// CertificateConfig 证书配置
type CertificateConfig struct {
	Subject        string   `yaml:"subject"`
	SAN            []string `yaml:"san,omitempty"`
	Key            string   `yaml:"key"`
	Path           string   `yaml:"path"`
	RenewDays      *int     `yaml:"renew_days,omitempty"`
	ConnectorGroup string   `yaml:"connector_group,omitempty"`
	KeyType        string   `yaml:"key_type,omitempty"` // 证书私钥类型，默认 rsa2048
	PostCommand    string   `yaml:"post_command,omitempty"`
	Upload         []string `yaml:"upload,omitempty"` // 上传到云平台: aliyun, tencent
}

// ConnectorConfig 连接器配置
type ConnectorConfig struct {
	Type        Kind   `yaml:"type"`
	Hostname    string `yaml:"hostname,omitempty"`
	Username    string `yaml:"username,omitempty"`
	SSHPort     int    `yaml:"ssh_port,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // 连接超时（秒），默认2
	AcmePath    string `yaml:"acme_path,omitempty"`
	UnboundCtrl string `yaml:"unbound_ctrl,omitempty"`

	// 云 DNS 连接器等待记录在权威 DNS 上生效
	PropagationTimeout  int `yaml:"propagation_timeout,omitempty"`  // 超时（秒），默认300
	PropagationInterval int `yaml:"propagation_interval,omitempty"` // 检查间隔（秒），默认10
}

// DefaultsConfig 默认值
type DefaultsConfig struct {
	Endpoint       string `yaml:"endpoint,omitempty"`
	RenewDays      *int   `yaml:"renew_days,omitempty"`
	ConnectorGroup string `yaml:"connector_group,omitempty"`
}

// ProvidersConfig 云平台凭证配置
type ProvidersConfig struct {
	Aliyun  *AliyunConfig  `yaml:"aliyun,omitempty"`
	Tencent *TencentConfig `yaml:"tencent,omitempty"`
	Huawei  *HuaweiConfig  `yaml:"huawei,omitempty"`
}

// AliyunConfig 阿里云配置
type AliyunConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	AccessKeySecret string `yaml:"access_key_secret"`
	Region          string `yaml:"region"`
}

// TencentConfig 腾讯云配置
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// HuaweiConfig 华为云配置
type HuaweiConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	ProjectID string `yaml:"project_id"`
}

// SSHConfig SSH 认证配置，所有 ssh_* 连接器共用
type SSHConfig struct {
	IdentityFile          string `yaml:"identity_file,omitempty"`
	KnownHosts            string `yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"`
	DisableAgent          bool   `yaml:"disable_agent,omitempty"`
}

// WebhookConfig Webhook 通知配置
type WebhookConfig struct {
	Enabled      bool              `yaml:"enabled"`                 // 是否启用
	URL          string            `yaml:"url"`                     // Webhook URL
	Headers      map[string]string `yaml:"headers,omitempty"`       // 自定义请求头
	Events       []string          `yaml:"events,omitempty"`        // 订阅的事件类型
	Timeout      int               `yaml:"timeout,omitempty"`       // 请求超时时间（秒），默认30
	Retries      int               `yaml:"retries,omitempty"`       // 重试次数，默认3
	BodyTemplate string            `yaml:"body_template,omitempty"` // 请求体模板（JSON格式）
}

// Kind 连接器类型
type Kind string

const (
	KindSSHHTTPFile   Kind = "ssh_http_file"
	KindSSHDNSUnbound Kind = "ssh_dns_unbound"
	KindAliyunDNS     Kind = "aliyun_dns"
	KindTencentDNS    Kind = "tencent_dns"
	KindHuaweiDNS     Kind = "huawei_dns"
)

// Kinds 所有支持的连接器类型
var Kinds = []Kind{KindSSHHTTPFile, KindSSHDNSUnbound, KindAliyunDNS, KindTencentDNS, KindHuaweiDNS}

// ChallengeType 返回连接器类型对应的验证方式
func (k Kind) ChallengeType() (authority.ChallengeType, bool) {
	switch k {
	case KindSSHHTTPFile:
		return authority.HTTP01, true
	case KindSSHDNSUnbound, KindAliyunDNS, KindTencentDNS, KindHuaweiDNS:
		return authority.DNS01, true
	default:
		return "", false
	}
}

// SSH 是否通过 SSH 连接
func (k Kind) SSH() bool {
	return k == KindSSHHTTPFile || k == KindSSHDNSUnbound
}

// Cloud 是否通过云平台 DNS API 放置记录
func (k Kind) Cloud() bool {
	return k == KindAliyunDNS || k == KindTencentDNS || k == KindHuaweiDNS
}

// Ordered 保留 YAML 中键顺序的映射
type Ordered[T any] struct {
	Keys   []string
	Values map[string]T
}

// UnmarshalYAML 解析映射节点并记录键顺序
func (o *Ordered[T]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("第 %d 行: 必须是映射", node.Line)
	}

	o.Keys = make([]string, 0, len(node.Content)/2)
	o.Values = make(map[string]T, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, ok := o.Values[key]; ok {
			return fmt.Errorf("第 %d 行: 重复的键 %s", node.Content[i].Line, key)
		}
		var value T
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		o.Keys = append(o.Keys, key)
		o.Values[key] = value
	}
	return nil
}

// Get 按名称查找
func (o Ordered[T]) Get(key string) (T, bool) {
	v, ok := o.Values[key]
	return v, ok
}

// Len 条目数
func (o Ordered[T]) Len() int {
	return len(o.Keys)
}
