// Package katana drives the projectdiscovery katana crawler. A single call
// fans out three crawl modes (endpoint discovery, javascript parsing, form
// submission), merges their JSONL output and labels every record with the
// mode that produced it.
package katana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/runner"
)

const (
	defaultBinary = "katana"
	defaultDepth  = 3
	defaultBudget = 180 * time.Second

	// Matches the per-invocation cap the crawler has always run with. A
	// single stuck mode gives up well before the whole budget drains.
	modeTimeout = 60 * time.Second
)

// Result is one crawl record after JSONL parsing and mode labeling.
type Result struct {
	URL          string
	Method       string
	Source       models.ResourceSource
	StatusCode   int
	ContentType  string
	ResponseSize int64
	Headers      map[string]string
	Body         string
	Parameters   map[string]string
}

// IsScript reports whether the record points at a JavaScript file.
func (r Result) IsScript() bool {
	u := r.URL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".js")
}

// rawRecord mirrors katana's flat JSONL schema.
type rawRecord struct {
	URL          string                 `json:"url"`
	Method       string                 `json:"method"`
	StatusCode   int                    `json:"status-code"`
	ContentType  string                 `json:"content-type"`
	ResponseSize int64                  `json:"response-size"`
	Headers      map[string]string      `json:"headers"`
	Response     string                 `json:"response"`
	FormData     map[string]interface{} `json:"form_data"`
}

// crawlMode couples a source label with the flags that switch the mode on.
type crawlMode struct {
	name   string
	source models.ResourceSource
	flags  []string
}

var crawlModes = []crawlMode{
	{name: "endpoints", source: models.SourceCrawler, flags: []string{"-rl", "150", "-c", "10", "-xhr"}},
	{name: "javascript", source: models.SourceJSParser, flags: []string{"-jc", "-jsl"}},
	{name: "forms", source: models.SourceFormSubmission, flags: []string{"-aff", "-fx"}},
}

// Crawler shells out to katana. Safe for concurrent use.
type Crawler struct {
	binary string
	depth  int
	budget time.Duration
	runner runner.CommandRunner
	logger *logger.Logger
}

type Option func(*Crawler)

// WithBinary points the crawler at a specific katana binary.
func WithBinary(path string) Option {
	return func(c *Crawler) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithDepth sets the crawl depth passed to every mode.
func WithDepth(depth int) Option {
	return func(c *Crawler) {
		if depth > 0 {
			c.depth = depth
		}
	}
}

// WithBudget caps the combined runtime of all three crawl modes.
func WithBudget(d time.Duration) Option {
	return func(c *Crawler) {
		if d > 0 {
			c.budget = d
		}
	}
}

// WithRunner substitutes the subprocess runner.
func WithRunner(r runner.CommandRunner) Option {
	return func(c *Crawler) {
		if r != nil {
			c.runner = r
		}
	}
}

func NewCrawler(opts ...Option) *Crawler {
	c := &Crawler{
		binary: defaultBinary,
		depth:  defaultDepth,
		budget: defaultBudget,
		runner: runner.NewExecRunner(),
		logger: logger.NewLogger(logrus.InfoLevel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CrawlAll runs every crawl mode concurrently against target and returns
// the merged records, deduplicated on (URL, method) with the first record
// winning. A mode failing is logged and tolerated; only all three failing
// fails the call.
func (c *Crawler) CrawlAll(ctx context.Context, target string) ([]Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	targetURL := ensureScheme(target)
	start := time.Now()

	perMode := make([][]Result, len(crawlModes))
	perModeErr := make([]error, len(crawlModes))

	var wg sync.WaitGroup
	for i, mode := range crawlModes {
		wg.Add(1)
		go func(i int, m crawlMode) {
			defer wg.Done()
			perMode[i], perModeErr[i] = c.runMode(runCtx, targetURL, m)
		}(i, mode)
	}
	wg.Wait()

	var merged []Result
	var failures []error
	for i, mode := range crawlModes {
		if perModeErr[i] != nil {
			c.logger.WithFields(logger.Fields{
				"mode":   mode.name,
				"target": target,
			}).Warnf("Crawl mode failed: %v", perModeErr[i])
			failures = append(failures, fmt.Errorf("%s: %w", mode.name, perModeErr[i]))
			continue
		}
		merged = append(merged, perMode[i]...)
	}

	if len(failures) == len(crawlModes) {
		return nil, fmt.Errorf("all katana crawl modes failed for %s: %w", target, errors.Join(failures...))
	}

	results := dedupe(merged)
	c.logger.WithFields(logger.Fields{
		"target":   target,
		"records":  len(results),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Info("Crawl finished")
	return results, nil
}

func (c *Crawler) runMode(ctx context.Context, targetURL string, m crawlMode) ([]Result, error) {
	modeCtx, cancel := context.WithTimeout(ctx, modeTimeout)
	defer cancel()

	args := append([]string{"-u", targetURL}, m.flags...)
	args = append(args,
		"-d", strconv.Itoa(c.depth),
		"-j", "-silent", "-hl", "-kf", "-dr", "-nc",
		"-timeout", "30", "-retry", "2", "-sf",
	)

	c.logger.WithFields(logger.Fields{
		"mode":   m.name,
		"target": targetURL,
	}).Debug("Starting crawl mode")

	output, err := c.runner.Run(modeCtx, c.binary, args)
	if err != nil {
		return nil, err
	}
	return c.parseOutput(output, m.source), nil
}

// parseOutput converts katana's flat JSONL into Results. Katana slips the
// odd diagnostic line onto stdout even in silent mode, so unparseable
// lines are skipped rather than failing the mode.
func (c *Crawler) parseOutput(output []byte, source models.ResourceSource) []Result {
	var results []Result
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw rawRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			c.logger.Warnf("Skipping unparseable katana line: %v", err)
			continue
		}
		if raw.URL == "" {
			continue
		}

		method := raw.Method
		if method == "" {
			method = "GET"
		}

		results = append(results, Result{
			URL:          raw.URL,
			Method:       method,
			Source:       source,
			StatusCode:   raw.StatusCode,
			ContentType:  raw.ContentType,
			ResponseSize: raw.ResponseSize,
			Headers:      raw.Headers,
			Body:         raw.Response,
			Parameters:   extractParameters(raw),
		})
	}
	return results
}

// extractParameters merges URL query parameters with submitted form
// fields. Only scalar form values survive; nested structures have no
// single value a probe could inject into.
func extractParameters(raw rawRecord) map[string]string {
	params := make(map[string]string)

	if u, err := url.Parse(raw.URL); err == nil {
		for key, values := range u.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			} else {
				params[key] = ""
			}
		}
	}

	for key, value := range raw.FormData {
		switch v := value.(type) {
		case string:
			params[key] = v
		case float64:
			params[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			params[key] = strconv.FormatBool(v)
		case nil:
			params[key] = ""
		}
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

// dedupe keeps the first record seen for each (URL, method) pair.
func dedupe(records []Result) []Result {
	seen := make(map[string]struct{}, len(records))
	var unique []Result
	for _, r := range records {
		key := r.URL + " " + r.Method
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, r)
	}
	return unique
}

func ensureScheme(target string) string {
	if strings.Contains(target, "://") {
		return target
	}
	return "https://" + target
}

// CheckInstalled verifies the katana binary is reachable before a scan
// commits to the crawl phase.
func (c *Crawler) CheckInstalled() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("katana binary %q not found: %w", c.binary, err)
	}
	return nil
}
