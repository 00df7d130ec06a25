// Package subfinder wraps the projectdiscovery subfinder binary for
// passive subdomain enumeration.
package subfinder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/runner"
)

const (
	defaultBinary  = "subfinder"
	defaultTimeout = 5 * time.Minute
)

// Sink receives raw scanner stdout for the scan's artifact directory.
type Sink interface {
	SaveRaw(name string, data []byte) (string, error)
}

// hostLine is one line of subfinder's -json output.
type hostLine struct {
	Host string `json:"host"`
}

// Scanner shells out to subfinder and parses its JSONL output. A zero
// rate limit leaves subfinder's own default in place.
type Scanner struct {
	binary    string
	timeout   time.Duration
	rateLimit int
	runner    runner.CommandRunner
	sink      Sink
	logger    *logger.Logger
}

type Option func(*Scanner)

// WithBinary points the scanner at a specific subfinder binary.
func WithBinary(path string) Option {
	return func(s *Scanner) {
		if path != "" {
			s.binary = path
		}
	}
}

// WithTimeout caps a single enumeration run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRateLimit caps subfinder's requests per second against its sources.
func WithRateLimit(n int) Option {
	return func(s *Scanner) {
		s.rateLimit = n
	}
}

// WithRunner substitutes the subprocess runner.
func WithRunner(r runner.CommandRunner) Option {
	return func(s *Scanner) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithSink tees raw subfinder stdout into an artifact sink.
func WithSink(sink Sink) Option {
	return func(s *Scanner) {
		s.sink = sink
	}
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		binary:  defaultBinary,
		timeout: defaultTimeout,
		runner:  runner.NewExecRunner(),
		logger:  logger.NewLogger(logrus.InfoLevel),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enumerate runs subfinder against domain and returns the deduplicated
// hostnames it reported. An empty result is valid; many domains simply
// have no passive footprint.
func (s *Scanner) Enumerate(ctx context.Context, domain string) ([]string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{"-d", domain, "-silent", "-json"}
	if s.rateLimit > 0 {
		args = append(args, "-rate-limit", strconv.Itoa(s.rateLimit))
	}

	s.logger.WithFields(logger.Fields{
		"domain": domain,
		"binary": s.binary,
	}).Debug("Running passive enumeration")

	output, err := s.runner.Run(runCtx, s.binary, args)
	if err != nil {
		return nil, fmt.Errorf("subfinder run for %s: %w", domain, err)
	}

	if s.sink != nil && len(output) > 0 {
		name := fmt.Sprintf("subfinder_%s.json", domain)
		if _, serr := s.sink.SaveRaw(name, output); serr != nil {
			s.logger.Warnf("Failed to save raw subfinder output: %v", serr)
		}
	}

	hosts := s.parseOutput(output)
	s.logger.WithFields(logger.Fields{
		"domain": domain,
		"count":  len(hosts),
	}).Info("Passive enumeration finished")
	return hosts, nil
}

// parseOutput walks subfinder's JSONL stdout. Lines that are not JSON or
// carry no host are skipped with a warning rather than failing the run.
func (s *Scanner) parseOutput(output []byte) []string {
	seen := make(map[string]struct{})
	var hosts []string

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry hostLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			s.logger.Warnf("Skipping unparseable subfinder line: %s", line)
			continue
		}
		if entry.Host == "" {
			s.logger.Warnf("Subfinder line carries no host: %s", line)
			continue
		}

		host := strings.ToLower(strings.TrimSpace(entry.Host))
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}

	return hosts
}

// CheckInstalled verifies the subfinder binary is reachable before a scan
// commits to the discovery phase.
func (s *Scanner) CheckInstalled() error {
	if _, err := exec.LookPath(s.binary); err != nil {
		return fmt.Errorf("subfinder binary %q not found: %w", s.binary, err)
	}
	return nil
}
