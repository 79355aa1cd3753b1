package config

import (
	"time"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/domain"
	"acme-distributed/internal/expand"
	"acme-distributed/internal/storage"
)

// Endpoint 解析后的证书颁发机构
type Endpoint struct {
	Name           string
	URL            string
	PrivateKey     string
	Email          string
	TimeoutRetries int
	KeyType        string
	PollLimit      int
}

// Certificate 解析后的证书，路径中的变量已展开
type Certificate struct {
	Name           string
	Subject        string
	SAN            []string
	Key            string
	Path           string
	RenewDays      int
	ConnectorGroup string
	KeyType        string
	PostCommand    string
	Upload         []string
}

// Names 返回去重并转为小写的全部域名，主域名在前
func (c Certificate) Names() []string {
	return domain.NormalizeNames(c.Subject, c.SAN)
}

// Connector 解析后的连接器
type Connector struct {
	Name        string
	Kind        Kind
	Type        authority.ChallengeType
	Hostname    string
	Username    string
	Port        int
	Timeout     time.Duration
	AcmePath    string
	UnboundCtrl string

	PropagationTimeout  time.Duration
	PropagationInterval time.Duration
}

// Group 连接器组，组内连接器的验证方式相同
type Group struct {
	Name       string
	Type       authority.ChallengeType
	Connectors []Connector
}

// Run 一次运行使用的不可变配置
type Run struct {
	Endpoint     Endpoint
	Certificates []Certificate // 保持配置文件中的顺序
	Groups       map[string]Group
	Providers    ProvidersConfig
	SSH          SSHConfig
	Webhook      *WebhookConfig
	PostCommand  string
	Options      Options
}

// Group 按名称查找连接器组
func (r *Run) Group(name string) (Group, bool) {
	g, ok := r.Groups[name]
	return g, ok
}

// Resolve 根据命令行选项生成本次运行的配置
func Resolve(config *Config, opts Options) (*Run, error) {
	file := config.file

	name := opts.Endpoint
	if opts.Account != AccountNone {
		name = opts.AccountEndpoint
	}
	if name == "" {
		name = config.Defaults.Endpoint
	}
	if name == "" {
		return nil, errorf(file, "未指定 endpoint 且没有默认值")
	}
	ec, ok := config.Endpoints.Get(name)
	if !ok {
		return nil, errorf(file, "endpoint %s 不存在", name)
	}

	vars := map[string]string{"endpoint": name}

	endpoint := Endpoint{
		Name:           name,
		URL:            ec.URL,
		PrivateKey:     expand.Expand(ec.PrivateKey, vars),
		Email:          ec.EmailAddr,
		TimeoutRetries: DefaultTimeoutRetries,
		KeyType:        orDefault(ec.KeyType, DefaultAccountKeyType),
		PollLimit:      ec.PollLimit,
	}
	if ec.TimeoutRetries != nil {
		endpoint.TimeoutRetries = *ec.TimeoutRetries
	}
	if !opts.GenerateAccountKeys && !storage.Exists(endpoint.PrivateKey) {
		return nil, errorf(file, "endpoint %s 的私钥 %s 不存在", name, endpoint.PrivateKey)
	}

	renewDays := DefaultRenewDays
	if config.Defaults.RenewDays != nil {
		renewDays = *config.Defaults.RenewDays
	}

	run := &Run{
		Endpoint:    endpoint,
		Groups:      make(map[string]Group, config.ConnectorGroups.Len()),
		Providers:   config.Providers,
		SSH:         config.SSH,
		Webhook:     config.Webhook,
		PostCommand: config.PostCommand,
		Options:     opts,
	}

	for _, certName := range config.Certificates.Keys {
		cc := config.Certificates.Values[certName]
		certVars := map[string]string{"endpoint": name, "name": certName}

		cert := Certificate{
			Name:           certName,
			Subject:        cc.Subject,
			SAN:            append([]string(nil), cc.SAN...),
			Key:            expand.Expand(cc.Key, certVars),
			Path:           expand.Expand(cc.Path, certVars),
			RenewDays:      renewDays,
			ConnectorGroup: orDefault(cc.ConnectorGroup, config.Defaults.ConnectorGroup),
			KeyType:        orDefault(cc.KeyType, DefaultCertKeyType),
			PostCommand:    orDefault(cc.PostCommand, config.PostCommand),
			Upload:         append([]string(nil), cc.Upload...),
		}
		if cc.RenewDays != nil {
			cert.RenewDays = *cc.RenewDays
		}
		if opts.RenewDays >= 0 {
			cert.RenewDays = opts.RenewDays
		}
		run.Certificates = append(run.Certificates, cert)
	}

	for _, groupName := range config.ConnectorGroups.Keys {
		group := Group{Name: groupName}
		for _, connName := range config.ConnectorGroups.Values[groupName] {
			group.Connectors = append(group.Connectors, resolveConnector(connName, config.Connectors.Values[connName]))
		}
		group.Type = group.Connectors[0].Type
		run.Groups[groupName] = group
	}

	return run, nil
}

func resolveConnector(name string, c ConnectorConfig) Connector {
	t, _ := c.Type.ChallengeType()
	conn := Connector{
		Name:        name,
		Kind:        c.Type,
		Type:        t,
		Hostname:    c.Hostname,
		Username:    c.Username,
		Port:        c.SSHPort,
		Timeout:     time.Duration(c.Timeout) * time.Second,
		AcmePath:    c.AcmePath,
		UnboundCtrl: c.UnboundCtrl,
	}
	if conn.Port == 0 {
		conn.Port = DefaultSSHPort
	}
	if conn.Timeout == 0 {
		conn.Timeout = DefaultSSHTimeout * time.Second
	}
	if c.Type.Cloud() {
		conn.PropagationTimeout = time.Duration(c.PropagationTimeout) * time.Second
		conn.PropagationInterval = time.Duration(c.PropagationInterval) * time.Second
		if conn.PropagationTimeout == 0 {
			conn.PropagationTimeout = DefaultPropagationTimeout * time.Second
		}
		if conn.PropagationInterval == 0 {
			conn.PropagationInterval = DefaultPropagationInterval * time.Second
		}
	}
	return conn
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
