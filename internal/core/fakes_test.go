package core

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/require"

	"acme-distributed/internal/authority"
	"acme-distributed/internal/config"
	"acme-distributed/internal/connector"
	"acme-distributed/internal/storage"
)

type fakeChallenge struct {
	typ     authority.ChallengeType
	token   string
	status  string
	script  []string
	errs    []error
	reloads int

	requests   int
	requestErr []error
}

func (c *fakeChallenge) Type() authority.ChallengeType { return c.typ }
func (c *fakeChallenge) Token() string { return c.token }
func (c *fakeChallenge) KeyAuthorization() string { return c.token + ".thumbprint" }
func (c *fakeChallenge) Status() string { return c.status }

func (c *fakeChallenge) RequestValidation(ctx context.Context) error {
	c.requests++
	if len(c.requestErr) > 0 {
		err := c.requestErr[0]
		c.requestErr = c.requestErr[1:]
		return err
	}
	return nil
}

func (c *fakeChallenge) Reload(ctx context.Context) error {
	c.reloads++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return err
		}
	}
	if len(c.script) > 0 {
		c.status = c.script[0]
		c.script = c.script[1:]
	}
	return nil
}

type fakeAuthorization struct {
	subject    string
	challenges map[authority.ChallengeType]*fakeChallenge
}

func (a *fakeAuthorization) Subject() string { return a.subject }
func (a *fakeAuthorization) Status() string { return authority.StatusPending }

func (a *fakeAuthorization) Challenge(t authority.ChallengeType) (authority.Challenge, bool) {
	ch, ok := a.challenges[t]
	if !ok {
		return nil, false
	}
	return ch, true
}

// newAuthorization 创建一个在第 polls 次轮询后变为 final 状态的授权
func newAuthorization(subject string, polls int, final string) *fakeAuthorization {
	script := make([]string, 0, polls)
	for i := 1; i < polls; i++ {
		script = append(script, authority.StatusPending)
	}
	script = append(script, final)

	token := strings.NewReplacer(".", "_", "*", "x").Replace(subject)
	return &fakeAuthorization{
		subject: subject,
		challenges: map[authority.ChallengeType]*fakeChallenge{
			authority.HTTP01: {typ: authority.HTTP01, token: "http_" + token, status: authority.StatusPending, script: script},
			authority.DNS01:  {typ: authority.DNS01, token: "dns_" + token, status: authority.StatusPending, script: append([]string(nil), script...)},
		},
	}
}

type fakeOrder struct {
	authzs    []authority.Authorization
	authzErrs []error
	authzCall int

	status    string
	script    []string
	csr       []byte
	finalized int
	pem       []byte
	certErrs  []error
	certCalls int
}

func (o *fakeOrder) Status() string { return o.status }

func (o *fakeOrder) Authorizations(ctx context.Context) ([]authority.Authorization, error) {
	o.authzCall++
	if len(o.authzErrs) > 0 {
		err := o.authzErrs[0]
		o.authzErrs = o.authzErrs[1:]
		return nil, err
	}
	return o.authzs, nil
}

func (o *fakeOrder) Finalize(ctx context.Context, csr []byte) error {
	o.finalized++
	o.csr = csr
	o.status = authority.StatusProcessing
	return nil
}

func (o *fakeOrder) Reload(ctx context.Context) error {
	if len(o.script) > 0 {
		o.status = o.script[0]
		o.script = o.script[1:]
	}
	return nil
}

func (o *fakeOrder) Certificate(ctx context.Context) ([]byte, error) {
	o.certCalls++
	if len(o.certErrs) > 0 {
		err := o.certErrs[0]
		o.certErrs = o.certErrs[1:]
		return nil, err
	}
	return o.pem, nil
}

// fakeClient 为每个域名创建一个经过一次轮询即通过的授权
type fakeClient struct {
	calls  int
	names  [][]string
	orders []*fakeOrder
	err    error

	// final 按域名覆盖验证结果
	final map[string]string
	pem   []byte
}

func (c *fakeClient) NewOrder(ctx context.Context, names []string) (authority.Order, error) {
	c.calls++
	c.names = append(c.names, names)
	if c.err != nil {
		return nil, c.err
	}

	order := &fakeOrder{status: authority.StatusPending, script: []string{authority.StatusValid}, pem: c.pem}
	for _, name := range names {
		final := authority.StatusValid
		if f, ok := c.final[name]; ok {
			final = f
		}
		order.authzs = append(order.authzs, newAuthorization(name, 2, final))
	}
	c.orders = append(c.orders, order)
	return order, nil
}

type fakeConnector struct {
	name       string
	typ        authority.ChallengeType
	connectErr error
	createErr  error
	removeFail int

	connected     bool
	connects      int
	disconnects   int
	created       []string
	removeAllCall int
	removeCtxErr  error
}

func (c *fakeConnector) Name() string { return c.name }
func (c *fakeConnector) Type() authority.ChallengeType { return c.typ }
func (c *fakeConnector) Connected() bool { return c.connected }

func (c *fakeConnector) Connect(ctx context.Context) error {
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeConnector) Disconnect() error {
	c.disconnects++
	c.connected = false
	return nil
}

func (c *fakeConnector) CreateChallenge(ctx context.Context, subject, name, content string) error {
	if c.createErr != nil {
		return &connector.Error{Connector: c.name, Op: "创建验证", Err: c.createErr}
	}
	c.created = append(c.created, subject+" "+name+" "+content)
	return nil
}

func (c *fakeConnector) RemoveChallenge(ctx context.Context, ref string) bool { return true }

func (c *fakeConnector) RemoveAllChallenges(ctx context.Context) int {
	c.removeAllCall++
	c.removeCtxErr = ctx.Err()
	return c.removeFail
}

type fakeClock struct {
	now    time.Time
	sleeps int
	slept  time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps++
	c.slept += d
	return ctx.Err()
}

// selfSigned 生成覆盖 names 的自签名证书 (PEM)
func selfSigned(t *testing.T, names []string, notAfter time.Time) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: names[0]},
		DNSNames:     names,
		NotBefore:    notAfter.Add(-100 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// testCertificate 在 dir 下创建带私钥的证书配置
func testCertificate(t *testing.T, dir, name string, san ...string) config.Certificate {
	t.Helper()
	cert := config.Certificate{
		Name:           name,
		Subject:        name + ".com",
		SAN:            san,
		Key:            filepath.Join(dir, name+".key"),
		Path:           filepath.Join(dir, name+".pem"),
		RenewDays:      30,
		ConnectorGroup: "web",
		KeyType:        "ec256",
	}
	require.NoError(t, storage.GenerateKey(cert.Key, certcrypto.EC256))
	return cert
}

func writePEM(t *testing.T, cert config.Certificate, notAfter time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(cert.Path, selfSigned(t, cert.Names(), notAfter), 0o644))
}
