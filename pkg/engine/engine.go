package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/analyzer"
	"github.com/ntsmith7/peekaboo/pkg/errors"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
)

// State is the orchestrator's position in the scan lifecycle.
type State string

const (
	StateNotStarted   State = "not_started"
	StateDiscovering  State = "discovering"
	StateCrawling     State = "crawling"
	StateVulnScanning State = "vulnerability_scanning"
	StateCompleted    State = "completed"
	StateCancelled    State = "cancelled"
	StateTimedOut     State = "timed_out"
	StateFailed       State = "failed"
)

// Terminal reports whether the scan is over.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateTimedOut, StateFailed:
		return true
	}
	return false
}

const (
	defaultDiscoveryPhaseTimeout = 15 * time.Minute
	defaultCrawlPhaseTimeout     = 30 * time.Minute
	defaultOverallTimeout        = time.Hour
)

// OrchestratorOpts carries the collaborators and knobs a scan runs with.
// Store, passive scanner, prober, crawler and vulnerability probe are
// required; the analyzer defaults to the built-in one and a nil metrics
// recorder simply records nothing.
type OrchestratorOpts struct {
	store     Store
	passive   PassiveScanner
	prober    Prober
	crawler   CrawlEngine
	analyzer  ContentAnalyzer
	vulnProbe VulnerabilityProbe
	metrics   *metrics.Recorder
	logger    *logger.Logger

	discoveryConcurrency int
	crawlConcurrency     int
	vulnConcurrency      int

	probeTimeout       time.Duration
	perTargetTimeout   time.Duration
	perResourceTimeout time.Duration
	discoveryTimeout   time.Duration
	crawlTimeout       time.Duration
	overallTimeout     time.Duration

	bruteforce        bool
	wordlist          []string
	bruteforceTimeout time.Duration
}

type OptFunc func(*OrchestratorOpts)

func WithStore(s Store) OptFunc {
	return func(o *OrchestratorOpts) {
		o.store = s
	}
}

func WithPassiveScanner(s PassiveScanner) OptFunc {
	return func(o *OrchestratorOpts) {
		o.passive = s
	}
}

func WithProber(p Prober) OptFunc {
	return func(o *OrchestratorOpts) {
		o.prober = p
	}
}

func WithCrawler(c CrawlEngine) OptFunc {
	return func(o *OrchestratorOpts) {
		o.crawler = c
	}
}

func WithAnalyzer(a ContentAnalyzer) OptFunc {
	return func(o *OrchestratorOpts) {
		o.analyzer = a
	}
}

func WithVulnerabilityProbe(p VulnerabilityProbe) OptFunc {
	return func(o *OrchestratorOpts) {
		o.vulnProbe = p
	}
}

func WithMetrics(rec *metrics.Recorder) OptFunc {
	return func(o *OrchestratorOpts) {
		o.metrics = rec
	}
}

func WithLogger(log *logger.Logger) OptFunc {
	return func(o *OrchestratorOpts) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithConcurrency bounds in-flight work with the same ceiling in every
// phase.
func WithConcurrency(n int) OptFunc {
	return WithPhaseConcurrency(n, n, n)
}

// WithPhaseConcurrency bounds in-flight work per phase.
func WithPhaseConcurrency(discovery, crawl, vuln int) OptFunc {
	return func(o *OrchestratorOpts) {
		if discovery > 0 {
			o.discoveryConcurrency = discovery
		}
		if crawl > 0 {
			o.crawlConcurrency = crawl
		}
		if vuln > 0 {
			o.vulnConcurrency = vuln
		}
	}
}

// WithOverallTimeout caps the whole scan.
func WithOverallTimeout(d time.Duration) OptFunc {
	return func(o *OrchestratorOpts) {
		if d > 0 {
			o.overallTimeout = d
		}
	}
}

// WithPhaseTimeouts caps the discovery and crawl phases individually.
// The vulnerability phase runs under the overall deadline alone.
func WithPhaseTimeouts(discovery, crawl time.Duration) OptFunc {
	return func(o *OrchestratorOpts) {
		if discovery > 0 {
			o.discoveryTimeout = discovery
		}
		if crawl > 0 {
			o.crawlTimeout = crawl
		}
	}
}

// WithTaskTimeouts caps individual work items: one candidate validation,
// one target crawl, one resource probe.
func WithTaskTimeouts(probe, crawl, vuln time.Duration) OptFunc {
	return func(o *OrchestratorOpts) {
		if probe > 0 {
			o.probeTimeout = probe
		}
		if crawl > 0 {
			o.perTargetTimeout = crawl
		}
		if vuln > 0 {
			o.perResourceTimeout = vuln
		}
	}
}

// WithBruteforce enables the bruteforce discovery pass. An empty word
// slice selects the built-in wordlist.
func WithBruteforce(words []string) OptFunc {
	return func(o *OrchestratorOpts) {
		o.bruteforce = true
		o.wordlist = words
	}
}

// Orchestrator drives one scan through its phases:
//
//	NotStarted -> Discovering -> Crawling -> VulnerabilityScanning -> Completed
//
// with Cancelled, TimedOut and Failed reachable from any in-progress
// state. An orchestrator is single-use; construct a fresh one per scan.
type Orchestrator struct {
	OrchestratorOpts

	discovery *DiscoveryPhase
	crawl     *CrawlPhase
	vuln      *VulnerabilityPhase

	mu      sync.Mutex
	state   State
	started bool

	finalizeOnce sync.Once
	report       *models.ScanReport
}

func NewOrchestrator(opts ...OptFunc) (*Orchestrator, error) {
	o := OrchestratorOpts{
		logger:               logger.NewLogger(logrus.InfoLevel),
		discoveryConcurrency: defaultDiscoveryConcurrency,
		crawlConcurrency:     defaultCrawlConcurrency,
		vulnConcurrency:      defaultVulnConcurrency,

		probeTimeout:       defaultProbeTimeout,
		perTargetTimeout:   defaultPerTargetTimeout,
		perResourceTimeout: defaultPerResourceTimeout,
		discoveryTimeout:   defaultDiscoveryPhaseTimeout,
		crawlTimeout:       defaultCrawlPhaseTimeout,
		overallTimeout:     defaultOverallTimeout,
		bruteforceTimeout:  defaultBruteforceTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.store == nil {
		return nil, fmt.Errorf("%w: store is required", errors.ErrInvalidConfig)
	}
	if o.passive == nil {
		return nil, fmt.Errorf("%w: passive scanner is required", errors.ErrInvalidConfig)
	}
	if o.prober == nil {
		return nil, fmt.Errorf("%w: prober is required", errors.ErrInvalidConfig)
	}
	if o.crawler == nil {
		return nil, fmt.Errorf("%w: crawler is required", errors.ErrInvalidConfig)
	}
	if o.vulnProbe == nil {
		return nil, fmt.Errorf("%w: vulnerability probe is required", errors.ErrInvalidConfig)
	}
	if o.analyzer == nil {
		o.analyzer = analyzer.New()
	}

	validator := NewValidator(o.prober, o.logger)

	discoveryOpts := []DiscoveryOption{
		WithDiscoveryConcurrency(o.discoveryConcurrency),
		WithProbeTimeout(o.probeTimeout),
		WithBruteforceTimeout(o.bruteforceTimeout),
		WithDiscoveryMetrics(o.metrics),
		WithDiscoveryLogger(o.logger),
	}
	if o.bruteforce {
		words := o.wordlist
		if len(words) == 0 {
			words = DefaultWordlist()
		}
		discoveryOpts = append(discoveryOpts, WithWordlist(words))
	}

	return &Orchestrator{
		OrchestratorOpts: o,
		state:            StateNotStarted,
		discovery:        NewDiscoveryPhase(o.store, o.passive, validator, discoveryOpts...),
		crawl: NewCrawlPhase(o.store, o.crawler, o.analyzer,
			WithCrawlConcurrency(o.crawlConcurrency),
			WithCrawlTimeout(o.perTargetTimeout),
			WithCrawlMetrics(o.metrics),
			WithCrawlLogger(o.logger)),
		vuln: NewVulnerabilityPhase(o.store, o.vulnProbe,
			WithVulnConcurrency(o.vulnConcurrency),
			WithVulnTimeout(o.perResourceTimeout),
			WithVulnMetrics(o.metrics),
			WithVulnLogger(o.logger)),
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.WithFields(logger.Fields{"state": string(s)}).Debug("Scan state changed")
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("scan already started")
	}
	o.started = true
	return nil
}

// interrupted maps a dead run context to its terminal state.
func (o *Orchestrator) interrupted(ctx context.Context) (State, error) {
	err := ctx.Err()
	switch err {
	case nil:
		return "", nil
	case context.DeadlineExceeded:
		return StateTimedOut, err
	default:
		return StateCancelled, err
	}
}

// Run executes a full scan of target and always returns a report, even
// for runs that fail preflight. The error is non-nil only when the scan
// itself broke (Failed); cancellation and timeout conclude the run and
// are reported through the report status instead.
func (o *Orchestrator) Run(ctx context.Context, target string) (*models.ScanReport, error) {
	scope := utils.NormalizeDomain(target)
	if scope == "" {
		return nil, fmt.Errorf("%w: empty target domain", errors.ErrInvalidConfig)
	}
	if err := o.begin(); err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	runCtx, cancel := context.WithTimeout(ctx, o.overallTimeout)
	defer cancel()

	o.metrics.ScanStarted()
	o.logger.WithFields(logger.Fields{
		"target":  scope,
		"timeout": o.overallTimeout.String(),
	}).Info("Scan starting")

	// Targets actually handed to the crawl phase; feeds the report's
	// live_targets_crawled.
	crawled := 0

	fail := func(err error) (*models.ScanReport, error) {
		if state, cause := o.interrupted(runCtx); state != "" {
			return o.finalize(scope, start, crawled, state, cause), nil
		}
		report := o.finalize(scope, start, crawled, StateFailed, err)
		return report, err
	}

	if err := o.preflight(runCtx); err != nil {
		return fail(fmt.Errorf("preflight: %w", err))
	}

	o.setState(StateDiscovering)
	phaseStart := time.Now()
	dctx, dcancel := context.WithTimeout(runCtx, o.discoveryTimeout)
	_, err := o.discovery.Run(dctx, scope)
	// The phase hitting its own deadline is not fatal: the crawl picks up
	// whatever discovery persisted. Only store failure is.
	phaseCut := dctx.Err() != nil && runCtx.Err() == nil
	dcancel()
	o.metrics.ObservePhase("discovery", time.Since(phaseStart).Seconds())
	if err != nil {
		if !phaseCut {
			return fail(err)
		}
		o.logger.WithFields(logger.Fields{"target": scope}).Warnf("discovery cut short by phase deadline: %v", err)
	}
	if state, cause := o.interrupted(runCtx); state != "" {
		return o.finalize(scope, start, crawled, state, cause), nil
	}

	// Crawl input is always a fresh query, never discovery's in-memory
	// output: an interrupted discovery still feeds the crawl exactly
	// what it managed to persist.
	targets, err := o.store.LiveUncrawledTargets(runCtx, scope)
	if err != nil {
		return fail(fmt.Errorf("query crawl targets: %w", err))
	}
	if len(targets) == 0 {
		o.logger.WithFields(logger.Fields{"target": scope}).Info("No live uncrawled targets, nothing to scan")
		return o.finalize(scope, start, crawled, StateCompleted, nil), nil
	}
	crawled = len(targets)

	o.setState(StateCrawling)
	phaseStart = time.Now()
	cctx, ccancel := context.WithTimeout(runCtx, o.crawlTimeout)
	_, err = o.crawl.Run(cctx, targets)
	phaseCut = cctx.Err() != nil && runCtx.Err() == nil
	ccancel()
	o.metrics.ObservePhase("crawl", time.Since(phaseStart).Seconds())
	if err != nil {
		if !phaseCut {
			return fail(err)
		}
		o.logger.WithFields(logger.Fields{"target": scope}).Warnf("crawl cut short by phase deadline: %v", err)
	}
	if state, cause := o.interrupted(runCtx); state != "" {
		return o.finalize(scope, start, crawled, state, cause), nil
	}

	o.setState(StateVulnScanning)
	phaseStart = time.Now()
	_, err = o.vuln.Run(runCtx, scope)
	o.metrics.ObservePhase("vulnerability", time.Since(phaseStart).Seconds())
	if err != nil {
		return fail(err)
	}
	if state, cause := o.interrupted(runCtx); state != "" {
		return o.finalize(scope, start, crawled, state, cause), nil
	}

	return o.finalize(scope, start, crawled, StateCompleted, nil), nil
}

// finalize runs exactly once per scan: stamps completion, pulls counts
// from durable storage, emits the report and records metrics. Every exit
// path of Run funnels through here.
func (o *Orchestrator) finalize(scope string, start time.Time, crawled int, state State, cause error) *models.ScanReport {
	o.finalizeOnce.Do(func() {
		o.setState(state)
		completion := time.Now().UTC()

		// The run context may already be dead; the counts still deserve
		// a bounded attempt so the report reflects durable rows.
		countCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		counts, err := o.store.CountsByScope(countCtx, scope)
		if err != nil {
			o.logger.WithFields(logger.Fields{"target": scope}).Warnf("count query failed, report carries zero counts: %v", err)
		}

		report := &models.ScanReport{
			Target:              scope,
			StartTime:           start,
			CompletionTime:      completion,
			DurationSeconds:     completion.Sub(start).Seconds(),
			TotalTargets:        counts.Targets,
			LiveTargetsCrawled:  int64(crawled),
			ResourcesDiscovered: counts.Resources,
			ScriptsDiscovered:   counts.Scripts,
			FindingsDiscovered:  counts.Findings,
			Status:              string(state),
		}
		if cause != nil {
			report.Error = cause.Error()
		}
		o.report = report

		o.metrics.ScanFinished(string(state))
		o.logger.WithFields(logger.Fields{
			"target":    scope,
			"status":    report.Status,
			"duration":  completion.Sub(start).String(),
			"targets":   report.TotalTargets,
			"crawled":   report.LiveTargetsCrawled,
			"resources": report.ResourcesDiscovered,
			"scripts":   report.ScriptsDiscovered,
			"findings":  report.FindingsDiscovered,
		}).Info("Scan finished")
	})
	return o.report
}
