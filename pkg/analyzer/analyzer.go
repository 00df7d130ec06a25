// Package analyzer statically inspects JavaScript bodies collected during
// crawls, pulling out referenced API endpoints, absolute URLs and
// suspicious variable assignments.
package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/pkg/logger"
)

var endpointPatterns = []*regexp.Regexp{
	// API endpoints with versioning
	regexp.MustCompile(`["']/(?:api|v[0-9]+)/[^"']+["']`),
	// Resource endpoints with file extensions
	regexp.MustCompile(`["']/[a-zA-Z0-9_\-/]+\.(?:json|xml|html|php|aspx)["']`),
	// GraphQL endpoints
	regexp.MustCompile(`["']/(?:graphql|gql|query)[^"']*["']`),
	// Authentication related endpoints
	regexp.MustCompile(`["']/(?:auth|login|logout|oauth|sso)[^"']*["']`),
	// General paths that look like endpoints
	regexp.MustCompile(`["']/[a-zA-Z0-9_\-/]+(?:/[a-zA-Z0-9_\-]+)*["']`),
}

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://[^\s'"` + "`" + `]+\w`),
	regexp.MustCompile("`https?://[^`]+`"),
	regexp.MustCompile(`https?://[^\s'"]+\?[^\s'"]+`),
}

// Paths that match an endpoint pattern but are noise in practice:
// version strings, content hashes, fingerprinted static assets.
var ignoredEndpointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/\d+\.\d+\.\d+`),
	regexp.MustCompile(`/\d{4}/\d{2}`),
	regexp.MustCompile(`/[a-f0-9]{32}`),
	regexp.MustCompile(`/[a-f0-9]{40}`),
	regexp.MustCompile(`/static/\d+`),
	regexp.MustCompile(`/\d+px`),
}

type variablePattern struct {
	Category string
	Regex    *regexp.Regexp
}

var variablePatterns = []variablePattern{
	{Category: "api_keys", Regex: regexp.MustCompile(`(?i)(?:api[_-]?key|client[_-]?id)["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "api_keys", Regex: regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "endpoints", Regex: regexp.MustCompile(`(?i)(?:endpoint|url|uri|api_url)["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "endpoints", Regex: regexp.MustCompile(`(?i)(?:base|root)_url["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "secrets", Regex: regexp.MustCompile(`(?i)(?:secret|token|password|key)["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "secrets", Regex: regexp.MustCompile(`(?i)(?:auth|oauth)_token["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "identifiers", Regex: regexp.MustCompile(`(?i)(?:account|user|tenant)_id["']?\s*[:=]\s*["']([^"']+)`)},
	{Category: "identifiers", Regex: regexp.MustCompile(`(?i)(?:project|org)_id["']?\s*[:=]\s*["']([^"']+)`)},
}

// Analysis is what one script body yielded. Endpoints are site-relative
// paths, ExternalURLs are absolute. Variables is category-keyed and is
// logged rather than persisted.
type Analysis struct {
	Endpoints    []string
	ExternalURLs []string
	Variables    map[string][]string
}

type Analyzer struct {
	logger *logger.Logger
}

func New() *Analyzer {
	return &Analyzer{logger: logger.NewLogger(logrus.InfoLevel)}
}

// Analyze scans body and returns everything of interest, deduplicated and
// sorted. sourceURL only feeds log context.
func (a *Analyzer) Analyze(body, sourceURL string) Analysis {
	analysis := Analysis{
		Endpoints:    a.extractEndpoints(body),
		ExternalURLs: a.extractURLs(body),
		Variables:    a.extractVariables(body),
	}

	if len(analysis.Variables) > 0 {
		fields := logger.Fields{"script": sourceURL}
		for category, values := range analysis.Variables {
			fields[category] = len(values)
		}
		a.logger.WithFields(fields).Debug("Script carries interesting variable assignments")
	}

	return analysis
}

func (a *Analyzer) extractEndpoints(body string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range endpointPatterns {
		for _, match := range pattern.FindAllString(body, -1) {
			endpoint := strings.Trim(match, `"'`)
			if isValidEndpoint(endpoint) {
				seen[endpoint] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

func (a *Analyzer) extractURLs(body string) []string {
	seen := make(map[string]struct{})
	for _, pattern := range urlPatterns {
		for _, match := range pattern.FindAllString(body, -1) {
			u := strings.Trim(match, "`'\"")
			u = strings.TrimRight(u, `'")];`)
			if u != "" {
				seen[u] = struct{}{}
			}
		}
	}
	return sortedKeys(seen)
}

func (a *Analyzer) extractVariables(body string) map[string][]string {
	found := make(map[string]map[string]struct{})
	for _, vp := range variablePatterns {
		for _, match := range vp.Regex.FindAllStringSubmatch(body, -1) {
			if len(match) < 2 || match[1] == "" {
				continue
			}
			if found[vp.Category] == nil {
				found[vp.Category] = make(map[string]struct{})
			}
			found[vp.Category][match[1]] = struct{}{}
		}
	}

	if len(found) == 0 {
		return nil
	}
	variables := make(map[string][]string, len(found))
	for category, values := range found {
		variables[category] = sortedKeys(values)
	}
	return variables
}

// isValidEndpoint drops matches that are almost certainly not routable
// paths.
func isValidEndpoint(endpoint string) bool {
	if !strings.HasPrefix(endpoint, "/") {
		return false
	}
	for _, pattern := range ignoredEndpointPatterns {
		if pattern.MatchString(endpoint) {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
