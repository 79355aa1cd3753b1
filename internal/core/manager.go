package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/connector"
	"acme-distributed/internal/provider"
	"acme-distributed/internal/retry"
	"acme-distributed/internal/storage"
)

// Notifier 运行事件通知
type Notifier interface {
	NotifyCertRenewed(ctx context.Context, certificate, path string) error
	NotifyCertFailed(ctx context.Context, certificate, reason string) error
	NotifyCleanupWarning(ctx context.Context, certificate string, failures int) error
}

// Deps Manager 的外部依赖
type Deps struct {
	// Client 证书颁发机构客户端，dry run 时可以为 nil
	Client authority.Client

	Connectors connector.Deps

	// Notifier 为 nil 时不发送通知
	Notifier Notifier

	Clock  retry.Clock
	Logger *logrus.Entry
}

// Manager 证书管理器，按顺序处理每个证书
type Manager struct {
	run          *config.Run
	scheduler    *Scheduler
	pool         *Pool
	orchestrator *Orchestrator
	executor     *Executor
	uploaders    *Uploaders
	notifier     Notifier
	logger       *logrus.Entry
}

// NewManager 创建管理器
func NewManager(run *config.Run, deps Deps) *Manager {
	logger := deps.Logger.WithField("endpoint", run.Endpoint.Name)
	if deps.Connectors.Logger == nil {
		deps.Connectors.Logger = logger
	}
	if deps.Connectors.Clock == nil {
		deps.Connectors.Clock = deps.Clock
	}

	return &Manager{
		run:       run,
		scheduler: NewScheduler(NewValidator(deps.Clock, logger), run.Options.GenerateCertificateKeys, logger),
		pool:      NewPool(deps.Connectors, logger),
		orchestrator: &Orchestrator{
			Client:    deps.Client,
			Policy:    retry.NewPolicy(run.Endpoint.TimeoutRetries, authority.IsTimeout, logger),
			Clock:     deps.Clock,
			PollLimit: run.Endpoint.PollLimit,
			Logger:    logger,
		},
		executor:  NewExecutor(logger),
		uploaders: NewUploaders(run.Providers, logger),
		notifier:  deps.Notifier,
		logger:    logger,
	}
}

// Run 处理所有需要续期的证书。单个证书失败只记录日志；
// 只有生成私钥失败等运行级错误会返回
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("========== 开始检查证书 ==========")

	certs, err := m.scheduler.Select(m.run.Certificates, m.run.Options.Certificates)
	if err != nil {
		return err
	}
	defer m.pool.CloseAll()

	failed := 0
	for _, cert := range certs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Process(ctx, cert); err != nil {
			if !IsChallengeError(err) {
				err = &ChallengeError{Certificate: cert.Name, Phase: "处理", Err: err}
			}
			failed++
			logger := m.logger.WithField("certificate", cert.Name)
			logger.Errorf("%v", err)
			if retry.IsExhausted(err) {
				logger.Warnf("颁发机构连续超时，可以调大 timeout_retries (当前 %d)", m.run.Endpoint.TimeoutRetries)
			}
			m.notifyFailed(ctx, cert, err)
		}
	}

	if failed > 0 {
		m.logger.Warnf("========== 检查完成, %d/%d 个证书失败 ==========", failed, len(certs))
	} else {
		m.logger.Info("========== 检查完成 ==========")
	}
	return nil
}

// Process 处理单个证书：验证、签发、后置命令、上传和通知
func (m *Manager) Process(ctx context.Context, cert config.Certificate) error {
	logger := m.logger.WithField("certificate", cert.Name)
	logger.Infof("处理证书, 域名: %s", cert.Subject)

	if !storage.Writable(cert.Path) {
		return &ChallengeError{Certificate: cert.Name, Phase: "检查", Err: fmt.Errorf("PEM 文件 %s 不可写", cert.Path)}
	}
	if !storage.Readable(cert.Key) {
		return &ChallengeError{Certificate: cert.Name, Phase: "检查", Err: fmt.Errorf("私钥 %s 不可读", cert.Key)}
	}

	group, ok := m.run.Group(cert.ConnectorGroup)
	if !ok {
		return &ChallengeError{Certificate: cert.Name, Phase: "检查", Err: fmt.Errorf("连接器组 %s 不存在", cert.ConnectorGroup)}
	}

	if m.run.Options.DryRun {
		logger.Info("dry run 模式，只测试连接器，不访问证书颁发机构")
		if _, err := m.pool.Open(ctx, group); err != nil {
			return &ChallengeError{Certificate: cert.Name, Phase: "连接", Err: err}
		}
		return nil
	}
	if m.orchestrator.Client == nil {
		return &ChallengeError{Certificate: cert.Name, Phase: "检查", Err: errors.New("未连接证书颁发机构")}
	}

	challenge := m.orchestrator.NewChallenge(cert, group.Type)
	if err := challenge.Start(ctx); err != nil {
		return err
	}

	conns, err := m.pool.Open(ctx, group)
	if err != nil {
		return &ChallengeError{Certificate: cert.Name, Phase: "连接", Err: err}
	}

	created, err := challenge.Distribute(ctx, conns)
	if err != nil {
		return err
	}
	if created == 0 {
		return &ChallengeError{Certificate: cert.Name, Phase: "分发验证", Err: ErrNoArtifacts}
	}
	logger.Debugf("已创建 %d 个验证内容", created)

	verr := challenge.Await(ctx)
	if verr == nil {
		verr = challenge.Validate(ctx)
	}
	if failures := challenge.Cleanup(ctx); failures > 0 {
		logger.Warnf("删除验证内容时出现 %d 个错误，请手动检查", failures)
		if m.notifier != nil {
			if err := m.notifier.NotifyCleanupWarning(context.WithoutCancel(ctx), cert.Name, failures); err != nil {
				logger.Warnf("发送通知失败: %v", err)
			}
		}
	}
	if verr != nil {
		return verr
	}
	if !challenge.Valid() {
		return &ChallengeError{Certificate: cert.Name, Phase: "验证", Err: ErrNotValid}
	}

	logger.Info("所有域名验证通过，开始申请证书")
	pem, err := challenge.Finalize(ctx)
	if err != nil {
		return err
	}
	logger.Infof("证书 %s 签发成功", cert.Name)

	m.afterIssue(ctx, cert, pem, logger)
	return nil
}

// afterIssue 证书写入后的操作，失败只记录日志
func (m *Manager) afterIssue(ctx context.Context, cert config.Certificate, pem []byte, logger *logrus.Entry) {
	if cert.PostCommand != "" {
		vars := m.executor.BuildVars(cert, m.run.Endpoint.Name)
		if err := m.executor.RunPostCommand(ctx, cert.PostCommand, vars); err != nil {
			logger.Errorf("执行后置命令失败: %v", err)
		}
	}

	if len(cert.Upload) > 0 {
		key, err := os.ReadFile(cert.Key)
		if err != nil {
			logger.Errorf("读取私钥失败，跳过上传: %v", err)
		} else {
			for _, name := range cert.Upload {
				m.upload(ctx, name, &provider.Certificate{
					Name:        cert.Name,
					Certificate: string(pem),
					PrivateKey:  string(key),
				}, logger)
			}
		}
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyCertRenewed(ctx, cert.Name, cert.Path); err != nil {
			logger.Warnf("发送通知失败: %v", err)
		}
	}
}

func (m *Manager) upload(ctx context.Context, name string, cert *provider.Certificate, logger *logrus.Entry) {
	uploader, err := m.uploaders.Get(name)
	if err != nil {
		logger.Errorf("上传证书失败: %v", err)
		return
	}
	id, err := uploader.UploadCertificate(ctx, cert)
	if err != nil {
		logger.Errorf("上传证书到 %s 失败: %v", uploader.Name(), err)
		return
	}
	logger.Infof("证书已上传到 %s, CertID: %s", uploader.Name(), id)
}

func (m *Manager) notifyFailed(ctx context.Context, cert config.Certificate, err error) {
	if m.notifier == nil {
		return
	}
	if nerr := m.notifier.NotifyCertFailed(context.WithoutCancel(ctx), cert.Name, err.Error()); nerr != nil {
		m.logger.WithField("certificate", cert.Name).Warnf("发送通知失败: %v", nerr)
	}
}
