// Package engine orchestrates a full scan: subdomain discovery, target
// validation, crawling and vulnerability probing, in that order. Each
// phase talks to the outside world through the small interfaces below so
// the pipeline can be exercised end to end with fakes.
package engine

import (
	"context"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/analyzer"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
)

// Store is the persistence contract the engine runs against. Every
// mutation is atomic per call; a batch is never partially visible.
type Store interface {
	// Ping reports whether the store is reachable. Used by preflight.
	Ping(ctx context.Context) error

	// UpsertTarget inserts a target or, when the name already exists,
	// refreshes its probe-state fields in place. It never touches
	// LastCrawledAt and never creates a second row for a known name.
	UpsertTarget(ctx context.Context, target *models.Target) error

	// LiveUncrawledTargets returns targets in scope (the seed or any of
	// its subdomains) that are alive and have never been crawled.
	LiveUncrawledTargets(ctx context.Context, scope string) ([]models.Target, error)

	// SaveCrawlResults writes the crawl output for one target and sets
	// its LastCrawledAt watermark in a single transaction. If anything
	// inside fails, the watermark stays unset and the target remains
	// eligible for the next run.
	SaveCrawlResults(ctx context.Context, target *models.Target, resources []models.Resource, scripts []models.ScriptAsset) error

	// ParameterizedResources returns resources in scope that carry
	// query or form parameters.
	ParameterizedResources(ctx context.Context, scope string) ([]models.Resource, error)

	// AppendFindings stores findings append-only. No updates, no dedup.
	AppendFindings(ctx context.Context, findings []models.Finding) error

	// CountsByScope aggregates durable rows for the final report.
	CountsByScope(ctx context.Context, scope string) (models.ScopeCounts, error)
}

// PassiveScanner enumerates candidate subdomains for a seed domain. An
// empty result is valid; errors mean the enumerator itself broke.
type PassiveScanner interface {
	Enumerate(ctx context.Context, domain string) ([]string, error)
	CheckInstalled() error
}

// Prober answers the three independent validation questions about a
// hostname. Each call may fail on its own without implicating the others.
type Prober interface {
	Resolve(ctx context.Context, domain string) ([]string, error)
	ProbeHTTP(ctx context.Context, domain string) (int, string, error)
	CheckTakeover(ctx context.Context, domain string) (bool, error)
}

// CrawlEngine crawls one live target and returns everything it saw.
type CrawlEngine interface {
	CrawlAll(ctx context.Context, target string) ([]katana.Result, error)
	CheckInstalled() error
}

// ContentAnalyzer statically inspects a JavaScript body.
type ContentAnalyzer interface {
	Analyze(body, sourceURL string) analyzer.Analysis
}

// VulnerabilityProbe tests a single parameterized resource and returns
// whatever it found. Partial findings alongside an error are valid.
type VulnerabilityProbe interface {
	Probe(ctx context.Context, resource *models.Resource) ([]models.Finding, error)
}
