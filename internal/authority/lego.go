package authority

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/sirupsen/logrus"
)

// DefaultHTTPTimeout 单次 HTTP 请求超时时间
const DefaultHTTPTimeout = 30 * time.Second

// Options 创建 Lego 客户端的参数
type Options struct {
	DirectoryURL string
	PrivateKey   crypto.PrivateKey
	UserAgent    string
	HTTPClient   *http.Client
	Logger       *logrus.Entry
}

// Lego 基于 lego acme/api 的客户端实现
type Lego struct {
	core   *api.Core
	logger *logrus.Entry

	mu         sync.Mutex
	accountURL string
}

// Dial 读取目录并创建客户端，不访问账户
func Dial(ctx context.Context, opts Options) (*Lego, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.PrivateKey == nil {
		return nil, errors.New("未提供账户私钥")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	core, err := api.New(httpClient, opts.UserAgent, opts.DirectoryURL, "", opts.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("连接证书颁发机构失败 (%s): %w", opts.DirectoryURL, err)
	}

	return &Lego{core: core, logger: logger}, nil
}

// account 查找当前私钥对应的账户，并设置后续请求的 kid
func (c *Lego) account() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accountURL != "" {
		return c.accountURL, nil
	}

	acc, err := c.core.Accounts.New(acme.Account{OnlyReturnExisting: true})
	if err != nil {
		return "", fmt.Errorf("查找账户失败: %w", err)
	}
	c.accountURL = acc.Location
	c.logger.WithField("account", acc.Location).Debug("已找到账户")
	return c.accountURL, nil
}

// CreateAccount 注册新账户（同意服务条款）
func (c *Lego) CreateAccount(ctx context.Context, email string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := acme.Account{TermsOfServiceAgreed: true}
	if email != "" {
		req.Contact = []string{"mailto:" + email}
	}

	acc, err := c.core.Accounts.New(req)
	if err != nil {
		return "", fmt.Errorf("创建账户失败: %w", err)
	}

	c.mu.Lock()
	c.accountURL = acc.Location
	c.mu.Unlock()
	return acc.Location, nil
}

// DeactivateAccount 注销当前账户
func (c *Lego) DeactivateAccount(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url, err := c.account()
	if err != nil {
		return err
	}
	if err := c.core.Accounts.Deactivate(url); err != nil {
		return fmt.Errorf("注销账户失败: %w", err)
	}
	return nil
}

// UpdateContact 修改账户联系邮箱
func (c *Lego) UpdateContact(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url, err := c.account()
	if err != nil {
		return err
	}

	var contact []string
	if email != "" {
		contact = []string{"mailto:" + email}
	}
	if _, err := c.core.Accounts.Update(url, acme.Account{Contact: contact}); err != nil {
		return fmt.Errorf("修改账户失败: %w", err)
	}
	return nil
}

// NewOrder 创建订单
func (c *Lego) NewOrder(ctx context.Context, names []string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := c.account(); err != nil {
		return nil, err
	}

	order, err := c.core.Orders.New(names)
	if err != nil {
		return nil, err
	}
	return &legoOrder{core: c.core, order: order}, nil
}

type legoOrder struct {
	core  *api.Core
	order acme.ExtendedOrder
}

func (o *legoOrder) Status() string {
	return o.order.Status
}

func (o *legoOrder) Authorizations(ctx context.Context) ([]Authorization, error) {
	authzs := make([]Authorization, 0, len(o.order.Authorizations))
	for _, url := range o.order.Authorizations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		authz, err := o.core.Authorizations.Get(url)
		if err != nil {
			return nil, err
		}

		a := &legoAuthorization{authz: authz, challenges: make(map[ChallengeType]*legoChallenge)}
		for _, ch := range authz.Challenges {
			t := ChallengeType(ch.Type)
			if t != HTTP01 && t != DNS01 {
				continue
			}
			keyAuth, err := o.core.GetKeyAuthorization(ch.Token)
			if err != nil {
				return nil, fmt.Errorf("计算 key authorization 失败: %w", err)
			}
			a.challenges[t] = &legoChallenge{core: o.core, challenge: ch, keyAuth: keyAuth}
		}
		authzs = append(authzs, a)
	}
	return authzs, nil
}

func (o *legoOrder) Finalize(ctx context.Context, csr []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	location := o.order.Location
	order, err := o.core.Orders.UpdateForCSR(o.order.Finalize, csr)
	if err != nil {
		return err
	}
	o.order = order
	o.order.Location = location
	return nil
}

func (o *legoOrder) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	location := o.order.Location
	order, err := o.core.Orders.Get(location)
	if err != nil {
		return err
	}
	o.order = order
	o.order.Location = location
	return nil
}

func (o *legoOrder) Certificate(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.order.Certificate == "" {
		return nil, fmt.Errorf("订单尚未签发证书 (状态: %s)", o.order.Status)
	}
	cert, _, err := o.core.Certificates.Get(o.order.Certificate, true)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

type legoAuthorization struct {
	authz      acme.Authorization
	challenges map[ChallengeType]*legoChallenge
}

func (a *legoAuthorization) Subject() string {
	return a.authz.Identifier.Value
}

func (a *legoAuthorization) Status() string {
	return a.authz.Status
}

func (a *legoAuthorization) Challenge(t ChallengeType) (Challenge, bool) {
	ch, ok := a.challenges[t]
	if !ok {
		return nil, false
	}
	return ch, true
}

type legoChallenge struct {
	core      *api.Core
	challenge acme.Challenge
	keyAuth   string
}

func (c *legoChallenge) Type() ChallengeType { return ChallengeType(c.challenge.Type) }
func (c *legoChallenge) Token() string { return c.challenge.Token }
func (c *legoChallenge) KeyAuthorization() string { return c.keyAuth }
func (c *legoChallenge) Status() string { return c.challenge.Status }

func (c *legoChallenge) RequestValidation(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.core.Challenges.New(c.challenge.URL)
	if err != nil {
		return err
	}
	c.challenge = ch.Challenge
	return nil
}

func (c *legoChallenge) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.core.Challenges.Get(c.challenge.URL)
	if err != nil {
		return err
	}
	c.challenge = ch.Challenge
	return nil
}
