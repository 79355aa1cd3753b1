package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"acme-distributed/internal/domain"
	"acme-distributed/internal/provider"
	"acme-distributed/internal/storage"
)

// 默认值
const (
	DefaultRenewDays      = 30
	DefaultTimeoutRetries = 10
	DefaultSSHPort        = 22
	DefaultSSHTimeout     = 2
	DefaultCertKeyType    = "rsa2048"
	DefaultAccountKeyType = "ec256"

	DefaultPropagationTimeout  = 300
	DefaultPropagationInterval = 10
)

// secrets 可以通过环境变量提供的凭证
type secrets struct {
	AliyunAccessKeyID     string `env:"ALIYUN_ACCESS_KEY_ID"`
	AliyunAccessKeySecret string `env:"ALIYUN_ACCESS_KEY_SECRET"`
	TencentSecretID       string `env:"TENCENTCLOUD_SECRET_ID"`
	TencentSecretKey      string `env:"TENCENTCLOUD_SECRET_KEY"`
	HuaweiAccessKey       string `env:"HUAWEICLOUD_ACCESS_KEY"`
	HuaweiSecretKey       string `env:"HUAWEICLOUD_SECRET_KEY"`
	SSHIdentityFile       string `env:"ACME_DISTRIBUTED_SSH_IDENTITY"`
	WebhookURL            string `env:"ACME_DISTRIBUTED_WEBHOOK_URL"`
}

// Load 加载配置文件
func Load(path string, logger *logrus.Entry) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorf(path, "读取配置文件失败: %w", err)
	}

	// 配置文件旁边的 .env 可选
	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errorf(path, "读取 %s 失败: %w", dotenv, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errorf(path, "解析配置文件失败: %w", err)
	}
	config.file = path

	if err := applyEnv(&config); err != nil {
		return nil, errorf(path, "读取环境变量失败: %w", err)
	}

	// 验证配置
	if err := validate(&config, logger); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnv 用非空的环境变量覆盖凭证
func applyEnv(config *Config) error {
	var s secrets
	if err := env.Parse(&s); err != nil {
		return err
	}

	if s.AliyunAccessKeyID != "" || s.AliyunAccessKeySecret != "" {
		if config.Providers.Aliyun == nil {
			config.Providers.Aliyun = &AliyunConfig{}
		}
		setIfEmpty(&config.Providers.Aliyun.AccessKeyID, s.AliyunAccessKeyID)
		setIfEmpty(&config.Providers.Aliyun.AccessKeySecret, s.AliyunAccessKeySecret)
	}
	if s.TencentSecretID != "" || s.TencentSecretKey != "" {
		if config.Providers.Tencent == nil {
			config.Providers.Tencent = &TencentConfig{}
		}
		setIfEmpty(&config.Providers.Tencent.SecretID, s.TencentSecretID)
		setIfEmpty(&config.Providers.Tencent.SecretKey, s.TencentSecretKey)
	}
	if s.HuaweiAccessKey != "" || s.HuaweiSecretKey != "" {
		if config.Providers.Huawei == nil {
			config.Providers.Huawei = &HuaweiConfig{}
		}
		setIfEmpty(&config.Providers.Huawei.AccessKey, s.HuaweiAccessKey)
		setIfEmpty(&config.Providers.Huawei.SecretKey, s.HuaweiSecretKey)
	}
	setIfEmpty(&config.SSH.IdentityFile, s.SSHIdentityFile)
	if s.WebhookURL != "" && config.Webhook != nil {
		config.Webhook.URL = s.WebhookURL
	}
	return nil
}

// setIfEmpty 环境变量优先于配置文件
func setIfEmpty(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// validate 验证配置
func validate(config *Config, logger *logrus.Entry) error {
	file := config.file

	if config.Endpoints.Len() == 0 {
		return errorf(file, "endpoints 未配置")
	}
	if config.Certificates.Len() == 0 {
		return errorf(file, "certificates 未配置")
	}
	if config.Connectors.Len() == 0 {
		return errorf(file, "connectors 未配置")
	}
	if config.ConnectorGroups.Len() == 0 {
		return errorf(file, "connector_groups 未配置")
	}

	for _, name := range config.Endpoints.Keys {
		if err := validateEndpoint(config.Endpoints.Values[name]); err != nil {
			return errorf(file, "endpoint %s: %w", name, err)
		}
	}

	for _, name := range config.Connectors.Keys {
		c := config.Connectors.Values[name]
		if err := validateConnector(config, c); err != nil {
			return errorf(file, "connector %s: %w", name, err)
		}
		if c.Type.SSH() && c.Username == "root" {
			logger.WithField("connector", name).Warnf("不建议使用 root 用户连接 %s", c.Hostname)
		}
	}

	for _, group := range config.ConnectorGroups.Keys {
		if err := validateGroup(config, config.ConnectorGroups.Values[group]); err != nil {
			return errorf(file, "connector group %s: %w", group, err)
		}
	}

	if d := config.Defaults; d.Endpoint != "" {
		if _, ok := config.Endpoints.Get(d.Endpoint); !ok {
			return errorf(file, "defaults.endpoint 引用了不存在的 endpoint %s", d.Endpoint)
		}
	}
	if d := config.Defaults; d.RenewDays != nil && *d.RenewDays < 0 {
		return errorf(file, "defaults.renew_days 不能为负数")
	}
	if d := config.Defaults; d.ConnectorGroup != "" {
		if _, ok := config.ConnectorGroups.Get(d.ConnectorGroup); !ok {
			return errorf(file, "defaults.connector_group 引用了不存在的 connector group %s", d.ConnectorGroup)
		}
	}

	for _, name := range config.Certificates.Keys {
		if err := validateCertificate(config, config.Certificates.Values[name]); err != nil {
			return errorf(file, "certificate %s: %w", name, err)
		}
	}

	if w := config.Webhook; w != nil && w.Enabled && w.URL == "" {
		return errorf(file, "webhook 已启用但未配置 url")
	}

	warnOverlaps(config, logger)
	return nil
}

func validateEndpoint(e EndpointConfig) error {
	if e.URL == "" {
		return fmt.Errorf("url 未配置")
	}
	if e.PrivateKey == "" {
		return fmt.Errorf("private_key 未配置")
	}
	if e.TimeoutRetries != nil && *e.TimeoutRetries < 0 {
		return fmt.Errorf("timeout_retries 不能为负数")
	}
	if e.PollLimit < 0 {
		return fmt.Errorf("poll_limit 不能为负数")
	}
	if _, err := storage.ParseKeyType(e.KeyType, DefaultAccountKeyType); err != nil {
		return err
	}
	return nil
}

func validateConnector(config *Config, c ConnectorConfig) error {
	if _, ok := c.Type.ChallengeType(); !ok {
		return fmt.Errorf("未知的连接器类型: %q, 支持: %v", c.Type, Kinds)
	}

	if c.Type.SSH() {
		if c.Hostname == "" {
			return fmt.Errorf("hostname 未配置")
		}
		if c.Username == "" {
			return fmt.Errorf("username 未配置")
		}
		if c.SSHPort != 0 && (c.SSHPort < 1 || c.SSHPort > 65535) {
			return fmt.Errorf("ssh_port 必须在 1 到 65535 之间")
		}
		if c.Timeout < 0 {
			return fmt.Errorf("timeout 不能为负数")
		}
	}

	if c.PropagationTimeout < 0 || c.PropagationInterval < 0 {
		return fmt.Errorf("propagation_timeout 和 propagation_interval 不能为负数")
	}

	switch c.Type {
	case KindSSHHTTPFile:
		if c.AcmePath == "" {
			return fmt.Errorf("acme_path 未配置")
		}
	case KindSSHDNSUnbound:
		if c.UnboundCtrl == "" {
			return fmt.Errorf("unbound_ctrl 未配置")
		}
	case KindAliyunDNS:
		return validateProviderConfig(config, provider.Aliyun, "DNS")
	case KindTencentDNS:
		return validateProviderConfig(config, provider.Tencent, "DNS")
	case KindHuaweiDNS:
		return validateProviderConfig(config, provider.Huawei, "DNS")
	}
	return nil
}

func validateGroup(config *Config, members []string) error {
	if len(members) == 0 {
		return fmt.Errorf("没有配置连接器")
	}

	seen := make(map[string]struct{}, len(members))
	var first string
	for _, name := range members {
		c, ok := config.Connectors.Get(name)
		if !ok {
			return fmt.Errorf("引用了不存在的连接器 %s", name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("连接器 %s 重复", name)
		}
		seen[name] = struct{}{}

		if first == "" {
			first = name
			continue
		}
		want, _ := config.Connectors.Values[first].Type.ChallengeType()
		got, _ := c.Type.ChallengeType()
		if want != got {
			return fmt.Errorf("连接器 %s (%s) 与 %s (%s) 的验证方式不一致", name, got, first, want)
		}
	}
	return nil
}

func validateCertificate(config *Config, c CertificateConfig) error {
	if c.Subject == "" {
		return fmt.Errorf("subject 未配置")
	}
	for _, name := range append([]string{c.Subject}, c.SAN...) {
		if !domain.ValidHostname(name) {
			return fmt.Errorf("无效的域名: %q", name)
		}
	}
	if c.Key == "" {
		return fmt.Errorf("key 未配置")
	}
	if c.Path == "" {
		return fmt.Errorf("path 未配置")
	}
	if c.RenewDays != nil && *c.RenewDays < 0 {
		return fmt.Errorf("renew_days 不能为负数")
	}
	if _, err := storage.ParseKeyType(c.KeyType, DefaultCertKeyType); err != nil {
		return err
	}

	group := c.ConnectorGroup
	if group == "" {
		group = config.Defaults.ConnectorGroup
	}
	if group == "" {
		return fmt.Errorf("未指定 connector_group 且没有默认值")
	}
	if _, ok := config.ConnectorGroups.Get(group); !ok {
		return fmt.Errorf("引用了不存在的 connector group %s", group)
	}

	for _, target := range c.Upload {
		switch target {
		case provider.Aliyun, provider.Tencent:
			if err := validateProviderConfig(config, target, "证书"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("不支持上传到 %s", target)
		}
	}
	return nil
}

// validateProviderConfig 验证提供商配置是否存在
func validateProviderConfig(config *Config, providerName, providerType string) error {
	switch providerName {
	case provider.Aliyun:
		if config.Providers.Aliyun == nil {
			return fmt.Errorf("%s提供商 aliyun 未配置凭证", providerType)
		}
		if config.Providers.Aliyun.AccessKeyID == "" || config.Providers.Aliyun.AccessKeySecret == "" {
			return fmt.Errorf("aliyun 凭证不完整")
		}
	case provider.Tencent:
		if config.Providers.Tencent == nil {
			return fmt.Errorf("%s提供商 tencent 未配置凭证", providerType)
		}
		if config.Providers.Tencent.SecretID == "" || config.Providers.Tencent.SecretKey == "" {
			return fmt.Errorf("tencent 凭证不完整")
		}
	case provider.Huawei:
		if config.Providers.Huawei == nil {
			return fmt.Errorf("%s提供商 huawei 未配置凭证", providerType)
		}
		if config.Providers.Huawei.AccessKey == "" || config.Providers.Huawei.SecretKey == "" {
			return fmt.Errorf("huawei 凭证不完整")
		}
	default:
		return fmt.Errorf("不支持的%s提供商: %s", providerType, providerName)
	}
	return nil
}

// warnOverlaps 不同连接器组的证书包含相同域名时只给出警告
func warnOverlaps(config *Config, logger *logrus.Entry) {
	type owner struct{ cert, group string }
	owners := make(map[string]owner)

	for _, name := range config.Certificates.Keys {
		c := config.Certificates.Values[name]
		group := c.ConnectorGroup
		if group == "" {
			group = config.Defaults.ConnectorGroup
		}
		for _, subject := range domain.NormalizeNames(c.Subject, c.SAN) {
			prev, ok := owners[subject]
			if !ok {
				owners[subject] = owner{cert: name, group: group}
				continue
			}
			if prev.group != group {
				logger.WithField("subject", subject).Warnf("证书 %s (%s) 与 %s (%s) 包含相同的域名", name, group, prev.cert, prev.group)
			}
		}
	}
}
