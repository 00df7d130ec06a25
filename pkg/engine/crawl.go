package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/errors"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
	"github.com/ntsmith7/peekaboo/pkg/pool"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
)

const (
	defaultCrawlConcurrency = 5
	defaultPerTargetTimeout = 2 * time.Minute
)

// CrawlSummary tallies one crawl run.
type CrawlSummary struct {
	Crawled   int
	Failed    int
	TimedOut  int
	Skipped   int
	Resources int
	Scripts   int
}

// CrawlPhase crawls a batch of live targets and persists what each crawl
// found. One target's failure never touches another's results, and a
// target's LastCrawledAt watermark moves only when its results are
// durably written.
type CrawlPhase struct {
	store    Store
	crawler  CrawlEngine
	analyzer ContentAnalyzer
	metrics  *metrics.Recorder
	logger   *logger.Logger

	concurrency      int
	perTargetTimeout time.Duration
}

type CrawlOption func(*CrawlPhase)

func WithCrawlConcurrency(n int) CrawlOption {
	return func(p *CrawlPhase) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithCrawlTimeout bounds the crawl and persistence of a single target.
func WithCrawlTimeout(d time.Duration) CrawlOption {
	return func(p *CrawlPhase) {
		if d > 0 {
			p.perTargetTimeout = d
		}
	}
}

func WithCrawlMetrics(rec *metrics.Recorder) CrawlOption {
	return func(p *CrawlPhase) {
		p.metrics = rec
	}
}

func WithCrawlLogger(log *logger.Logger) CrawlOption {
	return func(p *CrawlPhase) {
		if log != nil {
			p.logger = log
		}
	}
}

func NewCrawlPhase(store Store, crawler CrawlEngine, analyzer ContentAnalyzer, opts ...CrawlOption) *CrawlPhase {
	p := &CrawlPhase{
		store:            store,
		crawler:          crawler,
		analyzer:         analyzer,
		logger:           logger.NewLogger(logrus.InfoLevel),
		concurrency:      defaultCrawlConcurrency,
		perTargetTimeout: defaultPerTargetTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run crawls targets with bounded concurrency. Per target: crawl, map the
// records to resources and script assets, then write everything plus the
// crawl watermark in one store transaction. A crawl or persistence error
// leaves that target's watermark unset so the next run picks it up again.
func (p *CrawlPhase) Run(ctx context.Context, targets []models.Target) (*CrawlSummary, error) {
	summary := &CrawlSummary{}
	if len(targets) == 0 {
		return summary, nil
	}

	var resourceCount, scriptCount atomic.Int64

	worker := func(taskCtx context.Context, target models.Target) error {
		records, err := p.crawler.CrawlAll(taskCtx, target.Name)
		if err != nil {
			return fmt.Errorf("crawl %s: %w", target.Name, err)
		}

		resources, scripts := p.mapRecords(target.Name, records)
		if err := p.store.SaveCrawlResults(taskCtx, &target, resources, scripts); err != nil {
			return fmt.Errorf("save crawl results for %s: %w", target.Name, err)
		}

		resourceCount.Add(int64(len(resources)))
		scriptCount.Add(int64(len(scripts)))

		p.logger.WithFields(logger.Fields{
			"target":    target.Name,
			"resources": len(resources),
			"scripts":   len(scripts),
		}).Debug("Target crawled")
		return nil
	}

	outcomes := pool.Run(ctx, targets, worker, p.concurrency, p.perTargetTimeout)
	for _, o := range outcomes {
		switch o.Status {
		case pool.StatusSucceeded:
			summary.Crawled++
		case pool.StatusFailed:
			summary.Failed++
			p.logger.WithFields(logger.Fields{"target": o.Item.Name}).Warnf("crawl failed: %v", o.Err)
		case pool.StatusTimedOut:
			summary.TimedOut++
			p.logger.WithFields(logger.Fields{"target": o.Item.Name}).Warn("crawl timed out")
		case pool.StatusSkipped:
			summary.Skipped++
		}
	}

	summary.Resources = int(resourceCount.Load())
	summary.Scripts = int(scriptCount.Load())
	p.metrics.ResourcesDiscovered(summary.Resources)

	p.logger.WithFields(logger.Fields{
		"targets":   len(targets),
		"crawled":   summary.Crawled,
		"failed":    summary.Failed,
		"timed_out": summary.TimedOut,
		"resources": summary.Resources,
		"scripts":   summary.Scripts,
	}).Info("Crawl finished")

	return summary, nil
}

// mapRecords converts crawl records into persistent rows. Records that
// look like JavaScript become script assets, run through the content
// analyzer when a body is present; everything else becomes a resource.
// A record without a URL is malformed: it is skipped with a warning, not
// silently dropped.
func (p *CrawlPhase) mapRecords(domain string, records []katana.Result) ([]models.Resource, []models.ScriptAsset) {
	now := time.Now().UTC()
	var resources []models.Resource
	var scripts []models.ScriptAsset

	for _, rec := range records {
		if rec.URL == "" {
			verr := errors.NewValidationError("url", rec.URL, "crawl record has no url")
			p.logger.WithFields(logger.Fields{"target": domain}).Warnf("skipping crawl record: %v", verr)
			continue
		}

		if isScriptRecord(rec) {
			asset := models.ScriptAsset{
				Domain:       domain,
				URL:          rec.URL,
				Size:         rec.ResponseSize,
				DiscoveredAt: now,
			}
			if p.analyzer != nil && rec.Body != "" {
				analysis := p.analyzer.Analyze(rec.Body, rec.URL)
				asset.Endpoints = models.StringList(analysis.Endpoints)
				asset.ExternalURLs = models.StringList(analysis.ExternalURLs)
			}
			scripts = append(scripts, asset)
			continue
		}

		method := rec.Method
		if method == "" {
			method = "GET"
		}
		resources = append(resources, models.Resource{
			Domain:       domain,
			URL:          rec.URL,
			Method:       method,
			Source:       rec.Source,
			StatusCode:   rec.StatusCode,
			ContentType:  rec.ContentType,
			ResponseSize: rec.ResponseSize,
			Parameters:   models.StringMap(rec.Parameters),
			DiscoveredAt: now,
		})
	}

	return resources, scripts
}

func isScriptRecord(rec katana.Result) bool {
	return rec.IsScript() || strings.Contains(rec.ContentType, "javascript")
}
