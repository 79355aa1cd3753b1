package authority

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// DNSLabel dns-01 验证记录的固定前缀
const DNSLabel = "_acme-challenge"

// Fulfillment 根据验证类型计算要放置的 (name, content)
//
// http-01: name 为 token，content 为 key authorization；
// dns-01: name 为 DNSLabel，content 为 key authorization 的 SHA-256 摘要 (base64url)
func Fulfillment(ch Challenge) (name, content string, err error) {
	switch ch.Type() {
	case HTTP01:
		return ch.Token(), ch.KeyAuthorization(), nil
	case DNS01:
		sum := sha256.Sum256([]byte(ch.KeyAuthorization()))
		return DNSLabel, base64.RawURLEncoding.EncodeToString(sum[:]), nil
	default:
		return "", "", fmt.Errorf("不支持的验证类型: %s", ch.Type())
	}
}
