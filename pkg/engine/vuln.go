package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
	"github.com/ntsmith7/peekaboo/pkg/pool"
)

const (
	defaultVulnConcurrency    = 5
	defaultPerResourceTimeout = 2 * time.Minute
)

// VulnSummary tallies one vulnerability pass.
type VulnSummary struct {
	Probed   int
	Failed   int
	TimedOut int
	Skipped  int
	Findings int
}

// VulnerabilityPhase probes every parameterized resource in scope and
// appends whatever the probe finds. Findings are append-only; a probe
// crashing on one resource never touches the others.
type VulnerabilityPhase struct {
	store   Store
	probe   VulnerabilityProbe
	metrics *metrics.Recorder
	logger  *logger.Logger

	concurrency        int
	perResourceTimeout time.Duration
}

type VulnOption func(*VulnerabilityPhase)

func WithVulnConcurrency(n int) VulnOption {
	return func(p *VulnerabilityPhase) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithVulnTimeout bounds the probing of a single resource.
func WithVulnTimeout(d time.Duration) VulnOption {
	return func(p *VulnerabilityPhase) {
		if d > 0 {
			p.perResourceTimeout = d
		}
	}
}

func WithVulnMetrics(rec *metrics.Recorder) VulnOption {
	return func(p *VulnerabilityPhase) {
		p.metrics = rec
	}
}

func WithVulnLogger(log *logger.Logger) VulnOption {
	return func(p *VulnerabilityPhase) {
		if log != nil {
			p.logger = log
		}
	}
}

func NewVulnerabilityPhase(store Store, probe VulnerabilityProbe, opts ...VulnOption) *VulnerabilityPhase {
	p := &VulnerabilityPhase{
		store:              store,
		probe:              probe,
		logger:             logger.NewLogger(logrus.InfoLevel),
		concurrency:        defaultVulnConcurrency,
		perResourceTimeout: defaultPerResourceTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run re-queries the store for parameterized resources in scope and
// probes each under its own deadline. Findings produced before a probe
// error are still persisted; the error then marks that resource failed.
func (p *VulnerabilityPhase) Run(ctx context.Context, scope string) (*VulnSummary, error) {
	summary := &VulnSummary{}

	resources, err := p.store.ParameterizedResources(ctx, scope)
	if err != nil {
		return summary, fmt.Errorf("query parameterized resources for %s: %w", scope, err)
	}
	if len(resources) == 0 {
		p.logger.WithFields(logger.Fields{"scope": scope}).Info("No parameterized resources to probe")
		return summary, nil
	}

	var findingCount atomic.Int64

	worker := func(taskCtx context.Context, resource models.Resource) error {
		findings, probeErr := p.probe.Probe(taskCtx, &resource)
		if len(findings) > 0 {
			if err := p.store.AppendFindings(taskCtx, findings); err != nil {
				return fmt.Errorf("append findings for %s: %w", resource.URL, err)
			}
			findingCount.Add(int64(len(findings)))
			for _, f := range findings {
				p.metrics.FindingsRecorded(string(f.Severity), 1)
			}
		}
		if probeErr != nil {
			return fmt.Errorf("probe %s: %w", resource.URL, probeErr)
		}
		return nil
	}

	outcomes := pool.Run(ctx, resources, worker, p.concurrency, p.perResourceTimeout)
	for _, o := range outcomes {
		switch o.Status {
		case pool.StatusSucceeded:
			summary.Probed++
		case pool.StatusFailed:
			summary.Probed++
			summary.Failed++
			p.logger.WithFields(logger.Fields{"url": o.Item.URL}).Warnf("vulnerability probe failed: %v", o.Err)
		case pool.StatusTimedOut:
			summary.Probed++
			summary.TimedOut++
		case pool.StatusSkipped:
			summary.Skipped++
		}
	}
	summary.Findings = int(findingCount.Load())

	p.logger.WithFields(logger.Fields{
		"scope":    scope,
		"probed":   summary.Probed,
		"failed":   summary.Failed,
		"findings": summary.Findings,
	}).Info("Vulnerability scan finished")

	return summary, nil
}
