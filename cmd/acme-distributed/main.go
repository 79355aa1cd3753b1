package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/connector"
	"acme-distributed/internal/core"
	"acme-distributed/internal/daemon"
	"acme-distributed/internal/expand"
	"acme-distributed/internal/logging"
	"acme-distributed/internal/notification"
	"acme-distributed/internal/remote"
)

// Version 程序版本
const Version = "0.4.0"

const usageText = `ACME 证书分布式验证工具

用法:
  acme-distributed [选项] <config.yaml>

选项:
  -e, --endpoint <name>                 使用的 endpoint（默认取 defaults.endpoint）
  -c, --certificates <a,b>              只处理指定的证书（逗号分隔）
  -r, --renew-days <n>                  覆盖 renew_days（非负整数）
  -g, --generate-certificate-keys       为缺少私钥的证书生成私钥
  -G, --generate-account-keys           为缺少私钥的 endpoint 生成账户私钥
  -A, --create-account <endpoint>       在指定 endpoint 创建账户
  -D, --deactivate-account <endpoint>   注销指定 endpoint 的账户
  -C, --change-account <endpoint>       修改指定 endpoint 账户的联系邮箱
  -L, --log-level <level>               日志级别: debug, info, warn, error
  -n, --dry-run                         只测试连接器，不访问证书颁发机构
  -V, --version                         显示版本
  -h, --help                            显示帮助

示例:
  acme-distributed config.yaml
  acme-distributed -e staging -c example,www -n config.yaml
  acme-distributed -G -A staging config.yaml
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli 解析后的命令行参数
type cli struct {
	options    config.Options
	configPath string
	version    bool
}

func run(args []string, stdout, stderr io.Writer) int {
	c, err := parseArgs(args)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprint(stdout, usageText)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%v\n\n%s", err, usageText)
		return 1
	}
	if c.version {
		fmt.Fprintln(stdout, versionInfo())
		return 0
	}

	logger, err := logging.New(c.options.LogLevel, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	handler := daemon.NewSignalHandler(context.Background(), logger)
	handler.Start()
	defer handler.Stop()

	if err := execute(handler.Context(), c, logger); err != nil {
		if config.IsConfigurationError(err) {
			logger.Errorf("配置错误: %v", err)
		} else {
			logger.Error(err)
		}
		return 1
	}
	return 0
}

func parseArgs(args []string) (*cli, error) {
	c := &cli{options: config.DefaultOptions()}
	var certificates, create, deactivate, change string
	renewDays := -1

	fs := flag.NewFlagSet("acme-distributed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	stringFlag := func(p *string, short, long string) {
		fs.StringVar(p, short, *p, "")
		fs.StringVar(p, long, *p, "")
	}
	boolFlag := func(p *bool, short, long string) {
		fs.BoolVar(p, short, false, "")
		fs.BoolVar(p, long, false, "")
	}

	stringFlag(&c.options.Endpoint, "e", "endpoint")
	stringFlag(&certificates, "c", "certificates")
	fs.IntVar(&renewDays, "r", -1, "")
	fs.IntVar(&renewDays, "renew-days", -1, "")
	boolFlag(&c.options.GenerateCertificateKeys, "g", "generate-certificate-keys")
	boolFlag(&c.options.GenerateAccountKeys, "G", "generate-account-keys")
	stringFlag(&create, "A", "create-account")
	stringFlag(&deactivate, "D", "deactivate-account")
	stringFlag(&change, "C", "change-account")
	stringFlag(&c.options.LogLevel, "L", "log-level")
	boolFlag(&c.options.DryRun, "n", "dry-run")
	boolFlag(&c.version, "V", "version")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if c.version {
		return c, nil
	}

	renewSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "r" || f.Name == "renew-days" {
			renewSet = true
		}
	})
	if renewSet {
		if renewDays < 0 {
			return nil, fmt.Errorf("renew-days 必须是非负整数: %d", renewDays)
		}
		c.options.RenewDays = renewDays
	}

	if certificates != "" {
		for _, name := range strings.Split(certificates, ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.options.Certificates = append(c.options.Certificates, name)
			}
		}
	}

	actions := 0
	for _, a := range []struct {
		action   config.AccountAction
		endpoint string
	}{
		{config.AccountCreate, create},
		{config.AccountDeactivate, deactivate},
		{config.AccountChange, change},
	} {
		if a.endpoint == "" {
			continue
		}
		actions++
		c.options.Account = a.action
		c.options.AccountEndpoint = a.endpoint
	}
	if actions > 1 {
		return nil, errors.New("只能指定一个账户操作")
	}

	if _, err := logging.ParseLevel(c.options.LogLevel); err != nil {
		return nil, err
	}

	if fs.NArg() != 1 {
		return nil, errors.New("需要且只能指定一个配置文件")
	}
	c.configPath = fs.Arg(0)
	return c, nil
}

func execute(ctx context.Context, c *cli, logger *logrus.Entry) error {
	cfg, err := config.Load(c.configPath, logger)
	if err != nil {
		return err
	}
	runCfg, err := config.Resolve(cfg, c.options)
	if err != nil {
		return err
	}
	endpoint := runCfg.Endpoint
	logger.Infof("使用 endpoint %s (%s)", endpoint.Name, endpoint.URL)

	if err := core.EnsureAccountKey(endpoint, c.options.GenerateAccountKeys, logger); err != nil {
		return err
	}

	if c.options.Account != config.AccountNone {
		client, err := dial(ctx, endpoint, logger)
		if err != nil {
			return err
		}
		return core.RunAccountAction(ctx, c.options.Account, endpoint, client, logger)
	}

	deps := core.Deps{
		Connectors: connector.Deps{
			Dialer: &remote.SSHDialer{
				IdentityFile:          runCfg.SSH.IdentityFile,
				KnownHostsFile:        runCfg.SSH.KnownHosts,
				InsecureIgnoreHostKey: runCfg.SSH.InsecureIgnoreHostKey,
				DisableAgent:          runCfg.SSH.DisableAgent,
				Logger:                logger,
			},
			Providers: runCfg.Providers,
			Logger:    logger,
		},
		Logger: logger,
	}
	if notifier := notification.NewWebhookNotifier(runCfg.Webhook, endpoint.Name, logger); notifier != nil {
		deps.Notifier = notifier
	}
	if !c.options.DryRun {
		client, err := dial(ctx, endpoint, logger)
		if err != nil {
			return err
		}
		deps.Client = client
	}

	return core.NewManager(runCfg, deps).Run(ctx)
}

func dial(ctx context.Context, endpoint config.Endpoint, logger *logrus.Entry) (*authority.Lego, error) {
	key, err := core.LoadAccountKey(endpoint)
	if err != nil {
		return nil, err
	}
	return authority.Dial(ctx, authority.Options{
		DirectoryURL: endpoint.URL,
		PrivateKey:   key,
		UserAgent:    "acme-distributed/" + Version,
		Logger:       logger.WithField("endpoint", endpoint.Name),
	})
}

func versionInfo() string {
	return expand.ExpandWith("acme-distributed {{ version }} ({{ go }}, {{ os }}/{{ arch }})", map[string]string{
		"version": Version,
		"go":      runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}, expand.Options{KeepUnknown: true})
}
