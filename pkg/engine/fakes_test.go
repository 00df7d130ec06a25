package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
)

// fakeStore is an in-memory Store mimicking the real upsert and
// watermark semantics closely enough for phase tests.
type fakeStore struct {
	mu sync.Mutex

	targets   map[string]*models.Target
	order     []string
	resources []models.Resource
	scripts   []models.ScriptAsset
	findings  []models.Finding

	saveCalls int

	pingErr   error
	upsertErr error
	saveErr   error
	queryErr  error
	countsErr error
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{targets: make(map[string]*models.Target)}
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) UpsertTarget(ctx context.Context, target *models.Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.upsertErr != nil {
		return s.upsertErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *target
	if existing, ok := s.targets[target.Name]; ok {
		// Probe-state refresh only: the watermark and first-seen stamp
		// survive, exactly like the real upsert.
		clone.LastCrawledAt = existing.LastCrawledAt
		clone.DiscoveredAt = existing.DiscoveredAt
	} else {
		s.order = append(s.order, target.Name)
	}
	s.targets[target.Name] = &clone
	return nil
}

func (s *fakeStore) LiveUncrawledTargets(ctx context.Context, scope string) ([]models.Target, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Target
	for _, name := range s.order {
		t := s.targets[name]
		if !inScope(t.Name, scope) || !t.Alive || t.LastCrawledAt != nil {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *fakeStore) SaveCrawlResults(ctx context.Context, target *models.Target, resources []models.Resource, scripts []models.ScriptAsset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.resources = append(s.resources, resources...)
	s.scripts = append(s.scripts, scripts...)
	now := time.Now().UTC()
	if t, ok := s.targets[target.Name]; ok {
		t.LastCrawledAt = &now
	}
	return nil
}

func (s *fakeStore) ParameterizedResources(ctx context.Context, scope string) ([]models.Resource, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Resource
	for _, r := range s.resources {
		if inScope(r.Domain, scope) && len(r.Parameters) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) AppendFindings(ctx context.Context, findings []models.Finding) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, findings...)
	return nil
}

func (s *fakeStore) CountsByScope(ctx context.Context, scope string) (models.ScopeCounts, error) {
	if s.countsErr != nil {
		return models.ScopeCounts{}, s.countsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var counts models.ScopeCounts
	for _, t := range s.targets {
		if !inScope(t.Name, scope) {
			continue
		}
		counts.Targets++
		if t.Alive {
			counts.LiveTargets++
		}
	}
	for _, r := range s.resources {
		if inScope(r.Domain, scope) {
			counts.Resources++
		}
	}
	for _, sc := range s.scripts {
		if inScope(sc.Domain, scope) {
			counts.Scripts++
		}
	}
	for _, f := range s.findings {
		if inScope(f.Domain, scope) {
			counts.Findings++
		}
	}
	return counts, nil
}

func (s *fakeStore) target(name string) *models.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets[name]
}

func (s *fakeStore) targetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

func inScope(name, scope string) bool {
	return name == scope || strings.HasSuffix(name, "."+scope)
}

type fakePassive struct {
	names        []string
	err          error
	installedErr error
	delay        time.Duration
}

func (f *fakePassive) Enumerate(ctx context.Context, domain string) ([]string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.names, f.err
}

func (f *fakePassive) CheckInstalled() error { return f.installedErr }

// fakeProber answers probes from per-name maps. Names without an entry
// resolve to nothing and refuse HTTP, i.e. they are dead.
type fakeProber struct {
	ips         map[string][]string
	status      map[string]int
	takeover    map[string]bool
	resolveErr  map[string]error
	httpErr     map[string]error
	takeoverErr map[string]error
	onResolve   func(domain string)
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		ips:         make(map[string][]string),
		status:      make(map[string]int),
		takeover:    make(map[string]bool),
		resolveErr:  make(map[string]error),
		httpErr:     make(map[string]error),
		takeoverErr: make(map[string]error),
	}
}

// live registers name as resolving and answering HTTP 200.
func (f *fakeProber) live(name string, ips ...string) {
	if len(ips) == 0 {
		ips = []string{"203.0.113.10"}
	}
	f.ips[name] = ips
	f.status[name] = 200
}

func (f *fakeProber) Resolve(ctx context.Context, domain string) ([]string, error) {
	if f.onResolve != nil {
		f.onResolve(domain)
	}
	if err := f.resolveErr[domain]; err != nil {
		return nil, err
	}
	return f.ips[domain], nil
}

func (f *fakeProber) ProbeHTTP(ctx context.Context, domain string) (int, string, error) {
	if err := f.httpErr[domain]; err != nil {
		return 0, "", err
	}
	if code, ok := f.status[domain]; ok {
		return code, "", nil
	}
	return 0, "", fmt.Errorf("connect %s: connection refused", domain)
}

func (f *fakeProber) CheckTakeover(ctx context.Context, domain string) (bool, error) {
	if err := f.takeoverErr[domain]; err != nil {
		return false, err
	}
	return f.takeover[domain], nil
}

type fakeCrawler struct {
	mu           sync.Mutex
	results      map[string][]katana.Result
	errs         map[string]error
	delays       map[string]time.Duration
	delay        time.Duration
	installedErr error
	crawled      []string
}

func newFakeCrawler() *fakeCrawler {
	return &fakeCrawler{
		results: make(map[string][]katana.Result),
		errs:    make(map[string]error),
		delays:  make(map[string]time.Duration),
	}
}

func (f *fakeCrawler) CrawlAll(ctx context.Context, target string) ([]katana.Result, error) {
	f.mu.Lock()
	f.crawled = append(f.crawled, target)
	delay := f.delay
	if d, ok := f.delays[target]; ok {
		delay = d
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[target]; err != nil {
		return nil, err
	}
	return f.results[target], nil
}

func (f *fakeCrawler) CheckInstalled() error { return f.installedErr }

func (f *fakeCrawler) crawledTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.crawled))
	copy(out, f.crawled)
	return out
}

// fakeVulnProbe returns scripted findings keyed by resource URL.
type fakeVulnProbe struct {
	mu       sync.Mutex
	findings map[string][]models.Finding
	errs     map[string]error
	probed   []string
}

func newFakeVulnProbe() *fakeVulnProbe {
	return &fakeVulnProbe{
		findings: make(map[string][]models.Finding),
		errs:     make(map[string]error),
	}
}

func (f *fakeVulnProbe) Probe(ctx context.Context, resource *models.Resource) ([]models.Finding, error) {
	f.mu.Lock()
	f.probed = append(f.probed, resource.URL)
	f.mu.Unlock()
	return f.findings[resource.URL], f.errs[resource.URL]
}

func (f *fakeVulnProbe) probedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.probed))
	copy(out, f.probed)
	return out
}

func crawlRecord(url, method string, params map[string]string) katana.Result {
	return katana.Result{
		URL:        url,
		Method:     method,
		Source:     models.SourceCrawler,
		StatusCode: 200,
		Parameters: params,
	}
}
