package core

import (
	"time"

	"github.com/sirupsen/logrus"

	"acme-distributed/internal/config"
	"acme-distributed/internal/domain"
	"acme-distributed/internal/retry"
	"acme-distributed/internal/storage"
)

const day = 24 * time.Hour

// Lifetime 本地证书的剩余有效期
type Lifetime struct {
	// Exists 为 false 表示 PEM 文件不存在或无法解析
	Exists bool
	Days   int
	Expiry time.Time
}

// Validator 检查本地证书的剩余有效期，结果按证书名缓存
type Validator struct {
	clock  retry.Clock
	logger *logrus.Entry
	cache  map[string]Lifetime
}

// NewValidator 创建验证器
func NewValidator(clock retry.Clock, logger *logrus.Entry) *Validator {
	if clock == nil {
		clock = retry.SystemClock{}
	}
	return &Validator{clock: clock, logger: logger, cache: make(map[string]Lifetime)}
}

// RemainingLifetime 返回证书剩余的整天数；requery 为 true 时忽略缓存重新读取
func (v *Validator) RemainingLifetime(cert config.Certificate, requery bool) Lifetime {
	if lt, ok := v.cache[cert.Name]; ok && !requery {
		return lt
	}

	logger := v.logger.WithField("certificate", cert.Name)
	lt := Lifetime{}

	current, err := storage.LoadCertificate(cert.Path)
	switch {
	case err == nil:
		lt = Lifetime{
			Exists: true,
			Days:   int(current.NotAfter.Sub(v.clock.Now()) / day),
			Expiry: current.NotAfter,
		}
		var names []string
		if current.Subject.CommonName != "" {
			names = append(names, current.Subject.CommonName)
		}
		names = append(names, current.DNSNames...)
		if missing := domain.Covers(names, cert.Names()); len(missing) > 0 {
			logger.Warnf("现有证书未覆盖域名: %v", missing)
		}
	case storage.Exists(cert.Path):
		logger.Warnf("无法读取现有证书 %s: %v，视为需要续期", cert.Path, err)
	}

	v.cache[cert.Name] = lt
	return lt
}

// Renewable 没有证书或剩余天数不大于 renew_days 时需要续期
func (v *Validator) Renewable(cert config.Certificate) bool {
	lt := v.RemainingLifetime(cert, false)
	if !lt.Exists {
		return true
	}
	return lt.Days <= cert.RenewDays
}
