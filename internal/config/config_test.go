package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme-distributed/internal/authority"
)

const baseConfig = `
endpoints:
  staging:
    url: https://acme-staging.example/directory
    private_key: {{DIR}}/account-{{ endpoint }}.key
    email_addr: admin@example.com
    timeout_retries: 3
  production:
    url: https://acme.example/directory
    private_key: {{DIR}}/account-{{endpoint}}.key

certificates:
  zeta:
    subject: zeta.example.com
    key: {{DIR}}/zeta.key
    path: {{DIR}}/{{ endpoint }}/zeta.pem
  example:
    subject: example.com
    san: [Example.com, www.example.com]
    key: {{DIR}}/example.key
    path: {{DIR}}/{{endpoint}}/{{ name }}.pem
    renew_days: 14
    connector_group: web

connectors:
  web1:
    type: ssh_http_file
    hostname: web1.example.com
    username: acme
    acme_path: /var/www/.well-known/acme-challenge
  web2:
    type: ssh_http_file
    hostname: web2.example.com
    username: acme
    ssh_port: 2222
    timeout: 5
    acme_path: /var/www/.well-known/acme-challenge

connector_groups:
  web: [web1, web2]

defaults:
  endpoint: staging
  renew_days: 20
  connector_group: web
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content = strings.ReplaceAll(content, "{{DIR}}", dir)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func nullLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

func TestLoadValidConfig(t *testing.T) {
	logger, _ := nullLogger()
	cfg, err := Load(writeConfig(t, baseConfig), logger)
	require.NoError(t, err)

	assert.Equal(t, []string{"staging", "production"}, cfg.Endpoints.Keys)
	assert.Equal(t, []string{"zeta", "example"}, cfg.Certificates.Keys)
	assert.Equal(t, []string{"web1", "web2"}, cfg.ConnectorGroups.Values["web"])
	assert.Equal(t, KindSSHHTTPFile, cfg.Connectors.Values["web2"].Type)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantMsg string
	}{
		{
			name:    "missing connector group",
			mutate:  func(s string) string { return strings.Replace(s, "connector_group: web\n", "connector_group: nope\n", 1) },
			wantMsg: "nope",
		},
		{
			name:    "unknown connector type",
			mutate:  func(s string) string { return strings.Replace(s, "type: ssh_http_file", "type: ftp_upload", 1) },
			wantMsg: "ftp_upload",
		},
		{
			name:    "port out of range",
			mutate:  func(s string) string { return strings.Replace(s, "ssh_port: 2222", "ssh_port: 70000", 1) },
			wantMsg: "ssh_port",
		},
		{
			name:    "missing acme path",
			mutate:  func(s string) string { return strings.Replace(s, "    acme_path: /var/www/.well-known/acme-challenge\n  web2:", "  web2:", 1) },
			wantMsg: "acme_path",
		},
		{
			name:    "group references unknown connector",
			mutate:  func(s string) string { return strings.Replace(s, "[web1, web2]", "[web1, web3]", 1) },
			wantMsg: "web3",
		},
		{
			name: "mixed challenge types",
			mutate: func(s string) string {
				return strings.Replace(s, "connector_groups:", "  dns1:\n    type: ssh_dns_unbound\n    hostname: ns1.example.com\n    username: acme\n    unbound_ctrl: /usr/sbin/unbound-control\n\nconnector_groups:\n  mixed: [web1, dns1]", 1)
			},
			wantMsg: "验证方式不一致",
		},
		{
			name:    "invalid subject",
			mutate:  func(s string) string { return strings.Replace(s, "subject: zeta.example.com", "subject: \"zeta.example.com; id\"", 1) },
			wantMsg: "无效的域名",
		},
		{
			name:    "unknown default endpoint",
			mutate:  func(s string) string { return strings.Replace(s, "endpoint: staging", "endpoint: qa", 1) },
			wantMsg: "qa",
		},
		{
			name:    "cloud connector without credentials",
			mutate:  func(s string) string { return strings.Replace(s, "type: ssh_http_file", "type: aliyun_dns", 1) },
			wantMsg: "aliyun",
		},
		{
			name:    "negative propagation timeout",
			mutate:  func(s string) string { return strings.Replace(s, "    timeout: 5\n", "    timeout: 5\n    propagation_timeout: -1\n", 1) },
			wantMsg: "propagation_timeout",
		},
		{
			name:    "upload target without credentials",
			mutate:  func(s string) string { return strings.Replace(s, "    renew_days: 14\n", "    renew_days: 14\n    upload: [tencent]\n", 1) },
			wantMsg: "tencent",
		},
		{
			name:    "missing section",
			mutate:  func(s string) string { return s[:strings.Index(s, "connectors:")] },
			wantMsg: "connectors",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := nullLogger()
			_, err := Load(writeConfig(t, tt.mutate(baseConfig)), logger)
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	logger, _ := nullLogger()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), logger)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestLoadWarnings(t *testing.T) {
	content := strings.Replace(baseConfig, "username: acme\n    acme_path", "username: root\n    acme_path", 1)
	content = strings.Replace(content, "connector_groups:\n  web: [web1, web2]", "connector_groups:\n  web: [web1, web2]\n  edge: [web2]", 1)
	content = strings.Replace(content, "    path: {{DIR}}/{{ endpoint }}/zeta.pem\n", "    path: {{DIR}}/{{ endpoint }}/zeta.pem\n    san: [www.example.com]\n    connector_group: edge\n", 1)

	logger, hook := nullLogger()
	_, err := Load(writeConfig(t, content), logger)
	require.NoError(t, err)

	var messages []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			messages = append(messages, e.Message)
		}
	}
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], "root")
	assert.Contains(t, messages[1], "相同的域名")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ALIYUN_ACCESS_KEY_ID", "env-id")
	t.Setenv("ALIYUN_ACCESS_KEY_SECRET", "env-secret")
	t.Setenv("ACME_DISTRIBUTED_SSH_IDENTITY", "/home/acme/.ssh/id_ed25519")

	content := strings.Replace(baseConfig, "type: ssh_http_file", "type: aliyun_dns", 2)
	logger, _ := nullLogger()
	cfg, err := Load(writeConfig(t, content), logger)
	require.NoError(t, err)

	require.NotNil(t, cfg.Providers.Aliyun)
	assert.Equal(t, "env-id", cfg.Providers.Aliyun.AccessKeyID)
	assert.Equal(t, "env-secret", cfg.Providers.Aliyun.AccessKeySecret)
	assert.Equal(t, "/home/acme/.ssh/id_ed25519", cfg.SSH.IdentityFile)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeConfig(t, strings.Replace(baseConfig, "type: ssh_http_file", "type: tencent_dns", 2))
	dotenv := "TENCENTCLOUD_SECRET_ID=dot-id\nTENCENTCLOUD_SECRET_KEY=dot-key\n"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(dotenv), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("TENCENTCLOUD_SECRET_ID")
		os.Unsetenv("TENCENTCLOUD_SECRET_KEY")
	})

	logger, _ := nullLogger()
	cfg, err := Load(path, logger)
	require.NoError(t, err)
	require.NotNil(t, cfg.Providers.Tencent)
	assert.Equal(t, "dot-id", cfg.Providers.Tencent.SecretID)
}

func loadAndResolve(t *testing.T, opts Options) (*Run, string, error) {
	t.Helper()
	path := writeConfig(t, baseConfig)
	dir := filepath.Dir(path)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "account-staging.key"), []byte("key"), 0o600))

	logger, _ := nullLogger()
	cfg, err := Load(path, logger)
	require.NoError(t, err)
	run, err := Resolve(cfg, opts)
	return run, dir, err
}

func TestResolve(t *testing.T) {
	run, dir, err := loadAndResolve(t, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "staging", run.Endpoint.Name)
	assert.Equal(t, 3, run.Endpoint.TimeoutRetries)
	assert.Equal(t, filepath.Join(dir, "account-staging.key"), run.Endpoint.PrivateKey)
	assert.Equal(t, DefaultAccountKeyType, run.Endpoint.KeyType)

	require.Len(t, run.Certificates, 2)
	zeta, example := run.Certificates[0], run.Certificates[1]

	assert.Equal(t, "zeta", zeta.Name)
	assert.Equal(t, filepath.Join(dir, "staging", "zeta.pem"), zeta.Path)
	assert.Equal(t, 20, zeta.RenewDays)
	assert.Equal(t, "web", zeta.ConnectorGroup)
	assert.Equal(t, DefaultCertKeyType, zeta.KeyType)

	assert.Equal(t, filepath.Join(dir, "staging", "example.pem"), example.Path)
	assert.Equal(t, 14, example.RenewDays)
	assert.Equal(t, []string{"example.com", "www.example.com"}, example.Names())

	group, ok := run.Group("web")
	require.True(t, ok)
	assert.Equal(t, authority.HTTP01, group.Type)
	require.Len(t, group.Connectors, 2)
	assert.Equal(t, 22, group.Connectors[0].Port)
	assert.Equal(t, 2*time.Second, group.Connectors[0].Timeout)
	assert.Equal(t, 2222, group.Connectors[1].Port)
	assert.Equal(t, 5*time.Second, group.Connectors[1].Timeout)
}

func TestResolveRenewDaysOverride(t *testing.T) {
	opts := DefaultOptions()
	opts.RenewDays = 0
	run, _, err := loadAndResolve(t, opts)
	require.NoError(t, err)
	for _, c := range run.Certificates {
		assert.Equal(t, 0, c.RenewDays, c.Name)
	}
}

func TestResolveEndpointSelection(t *testing.T) {
	opts := DefaultOptions()
	opts.Endpoint = "production"
	_, _, err := loadAndResolve(t, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account-production.key")

	opts.GenerateAccountKeys = true
	run, _, err := loadAndResolve(t, opts)
	require.NoError(t, err)
	assert.Equal(t, "production", run.Endpoint.Name)
	assert.Equal(t, DefaultTimeoutRetries, run.Endpoint.TimeoutRetries)

	opts = DefaultOptions()
	opts.Endpoint = "missing"
	_, _, err = loadAndResolve(t, opts)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	opts = DefaultOptions()
	opts.Endpoint = "production"
	opts.Account = AccountCreate
	opts.AccountEndpoint = "staging"
	run, _, err = loadAndResolve(t, opts)
	require.NoError(t, err)
	assert.Equal(t, "staging", run.Endpoint.Name)
}

func TestResolveCloudPropagation(t *testing.T) {
	t.Setenv("ALIYUN_ACCESS_KEY_ID", "env-id")
	t.Setenv("ALIYUN_ACCESS_KEY_SECRET", "env-secret")

	content := strings.Replace(baseConfig, "type: ssh_http_file", "type: aliyun_dns", 2)
	content = strings.Replace(content, "    timeout: 5\n", "    timeout: 5\n    propagation_timeout: 120\n    propagation_interval: 5\n", 1)
	path := writeConfig(t, content)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "account-staging.key"), []byte("key"), 0o600))

	logger, _ := nullLogger()
	cfg, err := Load(path, logger)
	require.NoError(t, err)
	run, err := Resolve(cfg, DefaultOptions())
	require.NoError(t, err)

	group, ok := run.Group("web")
	require.True(t, ok)
	assert.Equal(t, authority.DNS01, group.Type)
	require.Len(t, group.Connectors, 2)
	assert.Equal(t, DefaultPropagationTimeout*time.Second, group.Connectors[0].PropagationTimeout)
	assert.Equal(t, DefaultPropagationInterval*time.Second, group.Connectors[0].PropagationInterval)
	assert.Equal(t, 120*time.Second, group.Connectors[1].PropagationTimeout)
	assert.Equal(t, 5*time.Second, group.Connectors[1].PropagationInterval)
}
