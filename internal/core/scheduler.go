package core

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/storage"
)

// Scheduler 选出本次运行需要处理的证书
type Scheduler struct {
	validator    *Validator
	generateKeys bool
	logger       *logrus.Entry
}

// NewScheduler 创建调度器；generateKeys 为 true 时为缺少私钥的证书生成私钥
func NewScheduler(validator *Validator, generateKeys bool, logger *logrus.Entry) *Scheduler {
	return &Scheduler{validator: validator, generateKeys: generateKeys, logger: logger}
}

// Select 按配置顺序返回需要续期的证书；filter 为空时考虑全部证书。
// 只有生成私钥失败会返回错误
func (s *Scheduler) Select(certs []config.Certificate, filter []string) ([]config.Certificate, error) {
	wanted := make(map[string]bool, len(filter))
	for _, name := range filter {
		wanted[name] = true
	}
	known := make(map[string]bool, len(certs))

	var selected []config.Certificate
	for _, cert := range certs {
		known[cert.Name] = true
		logger := s.logger.WithField("certificate", cert.Name)

		if len(wanted) > 0 && !wanted[cert.Name] {
			logger.Debug("不在指定的证书列表中，跳过")
			continue
		}

		if !storage.Exists(cert.Key) {
			if !s.generateKeys {
				logger.Errorf("私钥 %s 不存在，跳过", cert.Key)
				continue
			}
			if err := s.generateKey(cert); err != nil {
				return nil, err
			}
			logger.Infof("已生成私钥 %s", cert.Key)
		}

		lt := s.validator.RemainingLifetime(cert, false)
		if !s.validator.Renewable(cert) {
			logger.Infof("剩余有效期 %d 天，大于 %d 天，无需续期", lt.Days, cert.RenewDays)
			continue
		}
		if lt.Exists {
			logger.Debugf("剩余有效期 %d 天，不大于 %d 天，需要续期", lt.Days, cert.RenewDays)
		} else {
			logger.Debug("本地没有证书，需要申请")
		}
		selected = append(selected, cert)
	}

	for _, name := range filter {
		if !known[name] {
			s.logger.Warnf("证书 %s 不存在于配置中", name)
		}
	}

	s.logger.Infof("共 %d 个证书需要处理 (配置中共 %d 个)", len(selected), len(certs))
	return selected, nil
}

func (s *Scheduler) generateKey(cert config.Certificate) error {
	keyType, err := storage.ParseKeyType(cert.KeyType, config.DefaultCertKeyType)
	if err != nil {
		return fmt.Errorf("证书 %s: %w", cert.Name, err)
	}
	if err := storage.GenerateKey(cert.Key, keyType); err != nil {
		return fmt.Errorf("为证书 %s 生成私钥失败: %w", cert.Name, err)
	}
	return nil
}
