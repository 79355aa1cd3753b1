package storage

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/google/uuid"
)

// 私钥类型
var keyTypes = map[string]certcrypto.KeyType{
	"rsa2048": certcrypto.RSA2048,
	"rsa3072": certcrypto.RSA3072,
	"rsa4096": certcrypto.RSA4096,
	"ec256":   certcrypto.EC256,
	"ec384":   certcrypto.EC384,
}

// ParseKeyType 解析私钥类型，fallback 用于未配置的情况
func ParseKeyType(name, fallback string) (certcrypto.KeyType, error) {
	if name == "" {
		name = fallback
	}
	kt, ok := keyTypes[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("不支持的私钥类型: %s", name)
	}
	return kt, nil
}

// Exists 文件是否存在
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Readable 文件是否可读
func Readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Writable 检查文件是否可写：已存在的文件检查自身，否则检查所在目录
func Writable(path string) bool {
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return false
		}
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return false
		}
		f.Close()
		return true
	}
	return dirWritable(filepath.Dir(path))
}

func dirWritable(dir string) bool {
	marker := filepath.Join(dir, ".write-check-"+uuid.NewString())
	f, err := os.OpenFile(marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(marker)
	return true
}

// GenerateKey 生成私钥并以 0600 权限写入 path
func GenerateKey(path string, keyType certcrypto.KeyType) error {
	dir := filepath.Dir(path)
	if !dirWritable(dir) {
		return fmt.Errorf("目录 %s 不可写", dir)
	}

	key, err := certcrypto.GeneratePrivateKey(keyType)
	if err != nil {
		return fmt.Errorf("生成私钥失败: %w", err)
	}

	return WriteFile(path, certcrypto.PEMEncode(key), 0o600)
}

// LoadKey 读取 PEM 格式私钥
func LoadKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取私钥失败: %w", err)
	}
	key, err := certcrypto.ParsePEMPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败 (%s): %w", path, err)
	}
	return key, nil
}

// LoadCertificate 读取 PEM 证书（取第一个证书）
func LoadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cert, err := certcrypto.ParsePEMCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("解析证书失败 (%s): %w", path, err)
	}
	return cert, nil
}

// WriteFile 原子写入：先写临时文件再重命名，失败时不留下部分内容
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// SaveCertificate 保存签发的证书 (PEM)
func SaveCertificate(path string, pem []byte) error {
	if _, err := certcrypto.ParsePEMCertificate(pem); err != nil {
		return fmt.Errorf("颁发机构返回的证书无效: %w", err)
	}
	return WriteFile(path, pem, 0o644)
}
