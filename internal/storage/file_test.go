package storage

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, notAfter time.Time) []byte {
	t.Helper()
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		DNSNames:     []string{"example.com"},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.(*ecdsa.PrivateKey).Public(), key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestParseKeyType(t *testing.T) {
	kt, err := ParseKeyType("", "rsa2048")
	require.NoError(t, err)
	assert.Equal(t, certcrypto.RSA2048, kt)

	kt, err = ParseKeyType("EC384", "rsa2048")
	require.NoError(t, err)
	assert.Equal(t, certcrypto.EC384, kt)

	_, err = ParseKeyType("dsa", "rsa2048")
	require.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "example.key")

	require.NoError(t, GenerateKey(path, certcrypto.RSA2048))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	key, err := LoadKey(path)
	require.NoError(t, err)
	_, ok := key.(*rsa.PrivateKey)
	assert.True(t, ok)

	err = GenerateKey(filepath.Join(dir, "missing", "example.key"), certcrypto.EC256)
	require.Error(t, err)
}

func TestLoadCertificate(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCertificate(filepath.Join(dir, "none.pem"))
	require.ErrorIs(t, err, os.ErrNotExist)

	expiry := time.Now().Add(10 * 24 * time.Hour).Truncate(time.Second)
	path := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(path, selfSigned(t, expiry), 0o644))

	cert, err := LoadCertificate(path)
	require.NoError(t, err)
	assert.True(t, expiry.Equal(cert.NotAfter))
	assert.Equal(t, []string{"example.com"}, cert.DNSNames)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	_, err = LoadCertificate(bad)
	require.Error(t, err)
}

func TestSaveCertificate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")

	require.Error(t, SaveCertificate(path, []byte("not a certificate")))
	assert.False(t, Exists(path))

	data := selfSigned(t, time.Now().Add(time.Hour))
	require.NoError(t, SaveCertificate(path, data))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWritableAndReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.pem")

	assert.True(t, Writable(path))
	assert.False(t, Writable(filepath.Join(dir, "missing", "new.pem")))
	assert.False(t, Writable(dir))

	assert.False(t, Readable(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.True(t, Readable(path))
	assert.True(t, Writable(path))
}
