package connector

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/miekg/dns"
)

// defaultDNSTimeout 单次 DNS 查询超时
const defaultDNSTimeout = 10 * time.Second

// Waiter 放置验证内容后需要等待生效的连接器
type Waiter interface {
	Wait(ctx context.Context) error
}

// TXTChecker 检查 TXT 记录是否已经生效
type TXTChecker interface {
	Propagated(ctx context.Context, fqdn, value string) (bool, error)
}

// AuthoritativeChecker 向区域的每台权威服务器查询 TXT 记录，
// 全部返回期望值才算生效
type AuthoritativeChecker struct {
	// Nameservers 用于查询 NS 记录的递归服务器 (host:port)，为空时读取 /etc/resolv.conf
	Nameservers []string
	Timeout     time.Duration
}

// Propagated 实现 TXTChecker
func (a AuthoritativeChecker) Propagated(ctx context.Context, fqdn, value string) (bool, error) {
	fqdn = dns01.ToFqdn(fqdn)
	zone, err := dns01.FindZoneByFqdn(fqdn)
	if err != nil {
		return false, fmt.Errorf("查找 %s 所属区域失败: %w", fqdn, err)
	}

	servers, err := a.authoritative(ctx, zone)
	if err != nil {
		return false, err
	}

	for _, ns := range servers {
		in, err := a.exchange(ctx, fqdn, dns.TypeTXT, ns, false)
		if err != nil {
			return false, err
		}
		if !slices.Contains(txtValues(in), value) {
			return false, nil
		}
	}
	return true, nil
}

// authoritative 返回区域的权威服务器地址
func (a AuthoritativeChecker) authoritative(ctx context.Context, zone string) ([]string, error) {
	var lastErr error
	for _, resolver := range a.resolvers() {
		in, err := a.exchange(ctx, zone, dns.TypeNS, resolver, true)
		if err != nil {
			lastErr = err
			continue
		}
		var servers []string
		for _, rr := range in.Answer {
			if ns, ok := rr.(*dns.NS); ok {
				servers = append(servers, net.JoinHostPort(strings.TrimSuffix(ns.Ns, "."), "53"))
			}
		}
		if len(servers) == 0 {
			return nil, fmt.Errorf("区域 %s 没有 NS 记录", zone)
		}
		return servers, nil
	}
	return nil, fmt.Errorf("查询区域 %s 的 NS 记录失败: %w", zone, lastErr)
}

func (a AuthoritativeChecker) resolvers() []string {
	if len(a.Nameservers) > 0 {
		return dns01.ParseNameservers(a.Nameservers)
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53", "8.8.4.4:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}

// exchange 发送一次查询，响应被截断时改用 TCP
func (a AuthoritativeChecker) exchange(ctx context.Context, name string, qtype uint16, server string, recursive bool) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = recursive
	m.SetEdns0(4096, false)

	timeout := a.Timeout
	if timeout == 0 {
		timeout = defaultDNSTimeout
	}
	client := &dns.Client{Timeout: timeout}
	in, _, err := client.ExchangeContext(ctx, m, server)
	if err == nil && in.Truncated {
		client.Net = "tcp"
		in, _, err = client.ExchangeContext(ctx, m, server)
	}
	if err != nil {
		return nil, fmt.Errorf("向 %s 查询 %s 失败: %w", server, name, err)
	}
	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return nil, fmt.Errorf("%s 查询 %s 返回 %s", server, name, dns.RcodeToString[in.Rcode])
	}
	return in, nil
}

func txtValues(in *dns.Msg) []string {
	var values []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	return values
}
