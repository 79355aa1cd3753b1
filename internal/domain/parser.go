package domain

import (
	"regexp"
	"strings"
)

var hostnameLabel = regexp.MustCompile(`^[a-z0-9_]([a-z0-9_-]{0,61}[a-z0-9_])?$`)

// NormalizeNames 合并主域名和备用域名：转小写、去重，保持首次出现的顺序
func NormalizeNames(subject string, san []string) []string {
	seen := make(map[string]struct{}, len(san)+1)
	names := make([]string, 0, len(san)+1)

	for _, name := range append([]string{subject}, san...) {
		name = strings.ToLower(strings.TrimSpace(name))
		name = strings.TrimSuffix(name, ".")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// ValidHostname 检查是否为合法主机名，允许通配符前缀 "*."
func ValidHostname(name string) bool {
	name = strings.TrimPrefix(strings.ToLower(name), "*.")
	if name == "" || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !hostnameLabel.MatchString(label) {
			return false
		}
	}
	return true
}

// ExtractMainDomain 从完整域名提取主域名
// 例如: www.example.com -> example.com, sub.test.example.com -> example.com
func ExtractMainDomain(domain string) string {
	domain = strings.TrimPrefix(strings.TrimSuffix(domain, "."), "*.")
	parts := strings.Split(domain, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "." + parts[len(parts)-1]
	}
	return domain
}

// ExtractSubDomain 提取子域名部分（用于DNS记录的RR值）
// 例如: _acme-challenge.www.example.com 中提取 _acme-challenge.www
func ExtractSubDomain(fullRecord, mainDomain string) string {
	fullRecord = strings.TrimSuffix(fullRecord, ".")
	if fullRecord == mainDomain {
		return "@"
	}
	if strings.HasSuffix(fullRecord, "."+mainDomain) {
		return strings.TrimSuffix(fullRecord, "."+mainDomain)
	}
	return fullRecord
}

// IsSubDomain 检查是否为子域名
func IsSubDomain(domain, mainDomain string) bool {
	return strings.HasSuffix(domain, "."+mainDomain) || domain == mainDomain
}

// MatchDomain 检查域名是否匹配（支持通配符）
func MatchDomain(certDomain, targetDomain string) bool {
	certDomain = strings.ToLower(certDomain)
	targetDomain = strings.ToLower(targetDomain)

	// 完全匹配
	if certDomain == targetDomain {
		return true
	}

	// 通配符只匹配一级子域名
	if strings.HasPrefix(certDomain, "*.") {
		parent := strings.TrimPrefix(certDomain, "*.")
		rest, ok := strings.CutSuffix(targetDomain, "."+parent)
		return ok && rest != "" && !strings.Contains(rest, ".")
	}

	return false
}

// Covers 检查证书域名列表是否覆盖全部目标域名，返回未覆盖的域名
func Covers(certDomains, targets []string) []string {
	var missing []string
	for _, target := range targets {
		covered := false
		for _, certDomain := range certDomains {
			if MatchDomain(certDomain, target) {
				covered = true
				break
			}
		}
		if !covered {
			missing = append(missing, target)
		}
	}
	return missing
}
