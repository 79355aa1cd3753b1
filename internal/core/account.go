package core

import (
	"context"
	"crypto"
	"fmt"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/storage"
)

// AccountClient 账户管理所需的颁发机构操作
type AccountClient interface {
	CreateAccount(ctx context.Context, email string) (string, error)
	DeactivateAccount(ctx context.Context) error
	UpdateContact(ctx context.Context, email string) error
}

// EnsureAccountKey 账户私钥不存在且允许生成时生成私钥
func EnsureAccountKey(endpoint config.Endpoint, generate bool, logger *logrus.Entry) error {
	if storage.Exists(endpoint.PrivateKey) {
		return nil
	}
	if !generate {
		return fmt.Errorf("endpoint %s 的私钥 %s 不存在", endpoint.Name, endpoint.PrivateKey)
	}

	keyType, err := storage.ParseKeyType(endpoint.KeyType, config.DefaultAccountKeyType)
	if err != nil {
		return err
	}
	if err := storage.GenerateKey(endpoint.PrivateKey, keyType); err != nil {
		return fmt.Errorf("生成账户私钥失败: %w", err)
	}
	logger.Infof("已生成账户私钥 %s", endpoint.PrivateKey)
	return nil
}

// LoadAccountKey 读取账户私钥
func LoadAccountKey(endpoint config.Endpoint) (crypto.PrivateKey, error) {
	key, err := storage.LoadKey(endpoint.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", endpoint.Name, err)
	}
	return key, nil
}

// RunAccountAction 执行账户管理操作
func RunAccountAction(ctx context.Context, action config.AccountAction, endpoint config.Endpoint, client AccountClient, logger *logrus.Entry) error {
	logger = logger.WithField("endpoint", endpoint.Name)

	switch action {
	case config.AccountCreate:
		url, err := client.CreateAccount(ctx, endpoint.Email)
		if err != nil {
			return err
		}
		logger.Infof("账户已创建: %s", url)

	case config.AccountDeactivate:
		if err := client.DeactivateAccount(ctx); err != nil {
			return err
		}
		logger.Info("账户已注销")

	case config.AccountChange:
		if endpoint.Email == "" {
			return fmt.Errorf("endpoint %s 未配置 email_addr", endpoint.Name)
		}
		if err := client.UpdateContact(ctx, endpoint.Email); err != nil {
			return err
		}
		logger.Infof("账户联系邮箱已修改为 %s", endpoint.Email)

	default:
		return fmt.Errorf("未知的账户操作: %q", action)
	}
	return nil
}
