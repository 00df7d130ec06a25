// Package xss probes parameterized resources for reflected cross-site
// scripting. Each parameter is injected in turn while the others keep
// their crawled values; a finding is a payload coming back verbatim in
// the response body.
package xss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

// FindingType labels every finding this scanner produces.
const FindingType = "reflected_xss"

// Landing contexts for a reflected payload.
const (
	ContextHTML      = "html"
	ContextScript    = "script"
	ContextAttribute = "attribute"
	ContextUnknown   = "unknown"
)

const (
	defaultTimeout = 30 * time.Second
	proofMargin    = 40
	maxBodyBytes   = 1 << 20
)

// specialChars are the characters that make a payload unsafe to ship in a
// query string; their presence switches the probe to a POST form.
const specialChars = `<>"'&;`

var defaultPayloads = []string{
	`<script>alert(1)</script>`,
	`<img src=x onerror=alert(1)>`,
	`"><img src=x onerror=alert(1)>`,
	`';alert(1)//`,
}

// Scanner sends probe requests and inspects responses for reflections.
type Scanner struct {
	client        *http.Client
	userAgent     string
	payloads      []string
	authenticated bool
	logger        *logger.Logger
}

type Option func(*Scanner)

// WithHTTPClient substitutes the probe's HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scanner) {
		if client != nil {
			s.client = client
		}
	}
}

// WithPayloads overrides the payload list.
func WithPayloads(payloads []string) Option {
	return func(s *Scanner) {
		if len(payloads) > 0 {
			s.payloads = payloads
		}
	}
}

// WithAuthenticated marks the probe session as authenticated, which
// raises finding severity from medium to high.
func WithAuthenticated(authenticated bool) Option {
	return func(s *Scanner) {
		s.authenticated = authenticated
	}
}

// WithTimeout caps a single probe request.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		client:    &http.Client{Timeout: defaultTimeout},
		userAgent: "Mozilla/5.0",
		payloads:  defaultPayloads,
		logger:    logger.NewLogger(logrus.InfoLevel),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Probe tests every parameter of resource against the payload list and
// returns the findings. A parameter stops being probed after its first
// reflected payload. Request errors skip to the next payload; only
// context cancellation aborts the resource.
func (s *Scanner) Probe(ctx context.Context, resource *models.Resource) ([]models.Finding, error) {
	if resource == nil || !resource.HasParameters() {
		return nil, nil
	}

	var findings []models.Finding
	for param := range resource.Parameters {
		s.logger.WithFields(logger.Fields{
			"url":       resource.URL,
			"parameter": param,
		}).Debug("Probing parameter")

		for _, payload := range s.payloads {
			body, err := s.sendProbe(ctx, resource, param, payload)
			if err != nil {
				if ctx.Err() != nil {
					return findings, ctx.Err()
				}
				s.logger.Debugf("Probe request failed for %s: %v", resource.URL, err)
				continue
			}

			if !strings.Contains(body, payload) {
				continue
			}

			findings = append(findings, models.Finding{
				Type:       FindingType,
				Severity:   s.severity(),
				Domain:     resource.Domain,
				URL:        resource.URL,
				Method:     resource.Method,
				Parameter:  param,
				Payload:    payload,
				Proof:      extractProof(body, payload),
				Context:    classifyContext(body, payload),
				DetectedAt: time.Now().UTC(),
			})
			break
		}
	}

	if len(findings) > 0 {
		s.logger.WithFields(logger.Fields{
			"url":      resource.URL,
			"findings": len(findings),
		}).Info("Reflected XSS found")
	}
	return findings, nil
}

// sendProbe issues one request with the payload substituted into param.
// GET requests whose payload carries markup characters are downgraded to
// POST forms; long or angle-bracketed values routinely fall foul of URL
// handling on the way to the server otherwise.
func (s *Scanner) sendProbe(ctx context.Context, resource *models.Resource, param, payload string) (string, error) {
	params := url.Values{}
	for k, v := range resource.Parameters {
		params.Set(k, v)
	}
	params.Set(param, payload)

	method := strings.ToUpper(resource.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method == http.MethodGet && strings.ContainsAny(payload, specialChars) {
		s.logger.Debugf("Switching to POST for %s due to payload characters", resource.URL)
		method = http.MethodPost
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		probeURL, perr := withQuery(resource.URL, params)
		if perr != nil {
			return "", perr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, resource.URL, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return "", fmt.Errorf("building probe request for %s: %w", resource.URL, err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *Scanner) severity() models.Severity {
	if s.authenticated {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}

// withQuery replaces the query string of rawURL with params.
func withQuery(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// extractProof cuts the reflection out of the body with proofMargin
// characters of context on each side.
func extractProof(body, payload string) string {
	idx := strings.Index(body, payload)
	if idx < 0 {
		return "payload reflected but exact location unknown"
	}
	start := idx - proofMargin
	if start < 0 {
		start = 0
	}
	end := idx + len(payload) + proofMargin
	if end > len(body) {
		end = len(body)
	}
	return body[start:end]
}

// classifyContext parses the reflected document and reports where the
// payload landed. Markup payloads that injected successfully show up as
// real elements; bare payloads reflect into existing script blocks,
// attribute values or visible text.
func classifyContext(body, payload string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ContextUnknown
	}

	if strings.Contains(payload, "<script") && scriptTextContains(doc, "alert(1)") {
		return ContextScript
	}
	if strings.Contains(payload, "onerror") && doc.Find("img[onerror]").Length() > 0 {
		return ContextHTML
	}

	if scriptTextContains(doc, payload) {
		return ContextScript
	}
	for _, node := range doc.Find("*").Nodes {
		for _, attr := range node.Attr {
			if strings.Contains(attr.Val, payload) {
				return ContextAttribute
			}
		}
	}
	if strings.Contains(doc.Text(), payload) {
		return ContextHTML
	}
	return ContextUnknown
}

func scriptTextContains(doc *goquery.Document, needle string) bool {
	found := false
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.Contains(sel.Text(), needle) {
			found = true
			return false
		}
		return true
	})
	return found
}
