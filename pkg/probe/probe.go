// Package probe performs the DNS and HTTP checks behind target validation:
// address resolution, HTTP reachability and the subdomain-takeover
// heuristic. Probes are independent; one failing never blocks another.
package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/pkg/logger"
)

const maxBodyBytes = 1 << 20 // 1 MiB is plenty for reflection checks

var defaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

type exchangeFunc func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error)

// Client bundles a DNS client with resolver failover and an HTTP client.
type Client struct {
	resolvers  []string
	dnsClient  *dns.Client
	httpClient *http.Client
	exchange   exchangeFunc
	userAgent  string
	logger     *logger.Logger
}

type Option func(*Client)

// WithResolvers overrides the resolver list. Entries are host:port.
func WithResolvers(resolvers []string) Option {
	return func(c *Client) {
		if len(resolvers) > 0 {
			c.resolvers = resolvers
		}
	}
}

// WithDNSTimeout sets the per-query DNS timeout.
func WithDNSTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.dnsClient.Timeout = d
	}
}

// WithHTTPTimeout sets the HTTP probe timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithInsecureTLS skips certificate verification, for lab targets with
// self-signed certs.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// NewClient creates a probe client with sane defaults: public resolvers,
// 2s DNS timeout, 10s HTTP timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		resolvers:  defaultResolvers,
		dnsClient:  &dns.Client{Timeout: 2 * time.Second},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  "Mozilla/5.0 (compatible; peekaboo-scanner)",
		logger:     logger.NewLogger(logrus.InfoLevel),
	}

	c.exchange = func(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
		in, _, err := c.dnsClient.ExchangeContext(ctx, msg, server)
		return in, err
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Resolve returns the address set for domain: A and AAAA answers combined.
// An empty set with a nil error means the name exists but has no
// addresses; callers treat both the same way for liveness.
func (c *Client) Resolve(ctx context.Context, domain string) ([]string, error) {
	var ips []string
	var lastErr error

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		in, err := c.query(ctx, domain, qtype)
		if err != nil {
			lastErr = err
			continue
		}

		for _, ans := range in.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				ips = append(ips, rr.A.String())
			case *dns.AAAA:
				ips = append(ips, rr.AAAA.String())
			}
		}
	}

	if len(ips) == 0 && lastErr != nil {
		return nil, lastErr
	}

	return ips, nil
}

// ResolveCNAME returns domain's CNAME target without the trailing dot, or
// "" when the name has no CNAME record.
func (c *Client) ResolveCNAME(ctx context.Context, domain string) (string, error) {
	in, err := c.query(ctx, domain, dns.TypeCNAME)
	if err != nil {
		return "", err
	}

	for _, ans := range in.Answer {
		if rr, ok := ans.(*dns.CNAME); ok {
			return strings.TrimSuffix(rr.Target, "."), nil
		}
	}

	return "", nil
}

func (c *Client) query(ctx context.Context, domain string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range c.resolvers {
		in, err := c.exchange(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		return in, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no resolvers configured")
	}
	return nil, fmt.Errorf("dns query %s failed: %w", domain, lastErr)
}

// ProbeHTTP fetches the target's front page, trying https before http, and
// returns the status code with a capped body. Reachability is advisory;
// liveness decisions come from Resolve alone.
func (c *Client) ProbeHTTP(ctx context.Context, domain string) (int, string, error) {
	var lastErr error

	for _, scheme := range []string{"https", "http"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+domain+"/", nil)
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return resp.StatusCode, "", nil
		}

		return resp.StatusCode, string(body), nil
	}

	return 0, "", fmt.Errorf("http probe %s failed: %w", domain, lastErr)
}

// CheckTakeover flags names whose CNAME target no longer resolves. A
// dangling CNAME usually means the downstream service was deprovisioned
// while the DNS record stayed behind.
func (c *Client) CheckTakeover(ctx context.Context, domain string) (bool, error) {
	cname, err := c.ResolveCNAME(ctx, domain)
	if err != nil {
		return false, err
	}
	if cname == "" {
		return false, nil
	}

	ips, err := c.Resolve(ctx, cname)
	if err != nil || len(ips) == 0 {
		c.logger.WithFields(logger.Fields{
			"domain": domain,
			"cname":  cname,
		}).Warn("CNAME target does not resolve, possible takeover")
		return true, nil
	}

	return false, nil
}
