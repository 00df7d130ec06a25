package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
	"github.com/ntsmith7/peekaboo/pkg/pool"
)

const (
	defaultDiscoveryConcurrency = 5
	defaultProbeTimeout         = 30 * time.Second
	defaultBruteforceTimeout    = 5 * time.Minute
)

// defaultWordlist covers the hostnames worth guessing on any footprint.
// Callers with a real wordlist file override it through WithWordlist.
var defaultWordlist = []string{
	"www", "mail", "remote", "blog", "webmail", "server", "ns1", "ns2",
	"smtp", "secure", "vpn", "m", "shop", "ftp", "api", "dev", "staging",
	"test", "portal", "admin", "cdn", "cloud", "git", "app", "beta",
	"demo", "docs", "status", "support", "forum", "help", "store",
	"news", "media", "static", "assets", "auth", "sso", "dashboard",
	"monitor", "jenkins", "grafana",
}

// DefaultWordlist returns a copy of the built-in bruteforce wordlist.
func DefaultWordlist() []string {
	words := make([]string, len(defaultWordlist))
	copy(words, defaultWordlist)
	return words
}

// seenSet is the concurrency-safe dedup layer between enumeration
// sources. markSeen is an atomic check-and-insert.
type seenSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{names: make(map[string]struct{})}
}

// markSeen records name and reports whether it was new.
func (s *seenSet) markSeen(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return false
	}
	s.names[name] = struct{}{}
	return true
}

type candidate struct {
	name   string
	source models.DiscoverySource
}

// DiscoverySummary tallies what one discovery run did. Counts are
// advisory; durable truth lives in the store.
type DiscoverySummary struct {
	Seed      string
	Processed int
	Live      int
	BySource  map[models.DiscoverySource]int
	Succeeded int
	Failed    int
	TimedOut  int
	Skipped   int
}

// DiscoveryPhase finds and validates targets for a seed domain: the seed
// itself, passive enumeration output, and optionally a bruteforce pass.
// Every validated target is persisted the moment its probes finish, so an
// interrupted run keeps everything completed so far.
type DiscoveryPhase struct {
	store     Store
	passive   PassiveScanner
	validator *Validator
	metrics   *metrics.Recorder
	logger    *logger.Logger

	concurrency       int
	probeTimeout      time.Duration
	wordlist          []string
	bruteforceTimeout time.Duration
}

type DiscoveryOption func(*DiscoveryPhase)

func WithDiscoveryConcurrency(n int) DiscoveryOption {
	return func(p *DiscoveryPhase) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithProbeTimeout bounds the validation of a single candidate.
func WithProbeTimeout(d time.Duration) DiscoveryOption {
	return func(p *DiscoveryPhase) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithWordlist enables the bruteforce sub-phase with the given words.
func WithWordlist(words []string) DiscoveryOption {
	return func(p *DiscoveryPhase) {
		p.wordlist = words
	}
}

func WithBruteforceTimeout(d time.Duration) DiscoveryOption {
	return func(p *DiscoveryPhase) {
		if d > 0 {
			p.bruteforceTimeout = d
		}
	}
}

func WithDiscoveryMetrics(rec *metrics.Recorder) DiscoveryOption {
	return func(p *DiscoveryPhase) {
		p.metrics = rec
	}
}

func WithDiscoveryLogger(log *logger.Logger) DiscoveryOption {
	return func(p *DiscoveryPhase) {
		if log != nil {
			p.logger = log
		}
	}
}

func NewDiscoveryPhase(store Store, passive PassiveScanner, validator *Validator, opts ...DiscoveryOption) *DiscoveryPhase {
	p := &DiscoveryPhase{
		store:             store,
		passive:           passive,
		validator:         validator,
		logger:            logger.NewLogger(logrus.InfoLevel),
		concurrency:       defaultDiscoveryConcurrency,
		probeTimeout:      defaultProbeTimeout,
		bruteforceTimeout: defaultBruteforceTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run discovers targets for seed. The seed is validated and persisted
// before any enumeration output is touched, so even a run that dies
// immediately afterwards leaves a usable row behind. Timeout or
// cancellation returns the partial summary without an error; the only
// fatal condition is the store refusing the seed write.
func (p *DiscoveryPhase) Run(ctx context.Context, seed string) (*DiscoverySummary, error) {
	seed = utils.NormalizeDomain(seed)
	summary := &DiscoverySummary{
		Seed:     seed,
		BySource: make(map[models.DiscoverySource]int),
	}
	if seed == "" {
		return summary, fmt.Errorf("empty seed domain")
	}

	seen := newSeenSet()
	seen.markSeen(seed)

	var live atomic.Int64

	probeCtx, cancelProbe := context.WithTimeout(ctx, p.probeTimeout)
	seedTarget := p.validator.Validate(probeCtx, seed, models.SourceBase)
	cancelProbe()

	if err := p.store.UpsertTarget(ctx, seedTarget); err != nil {
		return summary, fmt.Errorf("persist seed %s: %w", seed, err)
	}
	summary.Processed++
	summary.Succeeded++
	summary.BySource[models.SourceBase]++
	if seedTarget.Alive {
		live.Add(1)
	}

	names, err := p.passive.Enumerate(ctx, seed)
	if err != nil {
		// Enumeration breaking leaves us with the seed alone. The phase
		// still counts as run.
		p.logger.WithFields(logger.Fields{"seed": seed}).Warnf("passive enumeration failed: %v", err)
	}

	batch := make([]candidate, 0, len(names))
	for _, raw := range names {
		name := utils.NormalizeDomain(raw)
		if name == "" || !seen.markSeen(name) {
			continue
		}
		batch = append(batch, candidate{name: name, source: models.SourcePassive})
	}
	p.validateBatch(ctx, batch, summary, &live)

	if len(p.wordlist) > 0 {
		p.bruteforce(ctx, seed, seen, summary, &live)
	}

	summary.Live = int(live.Load())
	for source, n := range summary.BySource {
		p.metrics.TargetsDiscovered(string(source), n)
	}

	p.logger.WithFields(logger.Fields{
		"seed":      seed,
		"processed": summary.Processed,
		"live":      summary.Live,
		"failed":    summary.Failed,
		"timed_out": summary.TimedOut,
		"skipped":   summary.Skipped,
	}).Info("Discovery finished")

	return summary, nil
}

func (p *DiscoveryPhase) bruteforce(ctx context.Context, seed string, seen *seenSet, summary *DiscoverySummary, live *atomic.Int64) {
	batch := make([]candidate, 0, len(p.wordlist))
	for _, word := range p.wordlist {
		word = strings.TrimSpace(strings.ToLower(word))
		if word == "" {
			continue
		}
		name := word + "." + seed
		if !seen.markSeen(name) {
			continue
		}
		batch = append(batch, candidate{name: name, source: models.SourceBruteforce})
	}

	p.logger.WithFields(logger.Fields{"seed": seed, "candidates": len(batch)}).Debug("Starting bruteforce pass")

	bctx, cancel := context.WithTimeout(ctx, p.bruteforceTimeout)
	defer cancel()
	p.validateBatch(bctx, batch, summary, live)
}

// validateBatch validates and persists candidates through the pool.
// Each worker writes its own target as soon as validation completes;
// a failed persist costs that one candidate, nothing else.
func (p *DiscoveryPhase) validateBatch(ctx context.Context, batch []candidate, summary *DiscoverySummary, live *atomic.Int64) {
	if len(batch) == 0 {
		return
	}

	worker := func(taskCtx context.Context, c candidate) error {
		target := p.validator.Validate(taskCtx, c.name, c.source)
		if err := p.store.UpsertTarget(taskCtx, target); err != nil {
			return fmt.Errorf("persist %s: %w", c.name, err)
		}
		if target.Alive {
			live.Add(1)
		}
		return nil
	}

	outcomes := pool.Run(ctx, batch, worker, p.concurrency, p.probeTimeout)

	summary.Processed += len(batch)
	for _, o := range outcomes {
		switch o.Status {
		case pool.StatusSucceeded:
			summary.Succeeded++
			summary.BySource[o.Item.source]++
		case pool.StatusFailed:
			summary.Failed++
			p.logger.WithFields(logger.Fields{"target": o.Item.name}).Warnf("discovery candidate failed: %v", o.Err)
		case pool.StatusTimedOut:
			summary.TimedOut++
		case pool.StatusSkipped:
			summary.Skipped++
		}
	}
}
