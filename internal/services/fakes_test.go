package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/pkg/scanners/katana"
)

// memScanDAO keeps scan rows in a map. Clones on every read and write so
// the background scan goroutine and the test never share a pointer.
type memScanDAO struct {
	mu    sync.Mutex
	scans map[string]models.Scan

	createErr error
}

func newMemScanDAO() *memScanDAO {
	return &memScanDAO{scans: make(map[string]models.Scan)}
}

func (d *memScanDAO) CreateScan(scan *models.Scan) error {
	if d.createErr != nil {
		return d.createErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	scan.CreatedAt = time.Now().UTC()
	d.scans[scan.UUID] = *scan
	return nil
}

func (d *memScanDAO) UpdateScan(scan *models.Scan) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.scans[scan.UUID]; !ok {
		return gorm.ErrRecordNotFound
	}
	scan.UpdatedAt = time.Now().UTC()
	d.scans[scan.UUID] = *scan
	return nil
}

func (d *memScanDAO) UpdateScanStatus(uuid string, status models.ScanStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	scan, ok := d.scans[uuid]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	scan.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		scan.CompletedAt = &now
	}
	d.scans[uuid] = scan
	return nil
}

func (d *memScanDAO) GetScanByUUID(uuid string) (*models.Scan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	scan, ok := d.scans[uuid]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := scan
	return &clone, nil
}

func (d *memScanDAO) ListScans() ([]models.Scan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Scan, 0, len(d.scans))
	for _, scan := range d.scans {
		out = append(out, scan)
	}
	return out, nil
}

func (d *memScanDAO) seed(scan models.Scan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scans[scan.UUID] = scan
}

// stubStore is a small in-memory ScanStore. Just enough upsert and
// watermark behavior for an orchestrator run to complete against it.
type stubStore struct {
	mu       sync.Mutex
	targets  map[string]*models.Target
	order    []string
	findings []models.Finding

	resources int
	scripts   int

	queryErr  error
	queryFn   func(call int) error
	queries   int
	saveCalls int
}

func newStubStore() *stubStore {
	return &stubStore{targets: make(map[string]*models.Target)}
}

func (s *stubStore) Ping(ctx context.Context) error { return nil }

func (s *stubStore) UpsertTarget(ctx context.Context, target *models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *target
	if existing, ok := s.targets[target.Name]; ok {
		clone.LastCrawledAt = existing.LastCrawledAt
	} else {
		s.order = append(s.order, target.Name)
	}
	s.targets[target.Name] = &clone
	return nil
}

func (s *stubStore) LiveUncrawledTargets(ctx context.Context, scope string) ([]models.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.queryFn != nil {
		if err := s.queryFn(s.queries); err != nil {
			return nil, err
		}
	}
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []models.Target
	for _, name := range s.order {
		t := s.targets[name]
		if t.Alive && t.LastCrawledAt == nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *stubStore) SaveCrawlResults(ctx context.Context, target *models.Target, resources []models.Resource, scripts []models.ScriptAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.resources += len(resources)
	s.scripts += len(scripts)
	now := time.Now().UTC()
	if t, ok := s.targets[target.Name]; ok {
		t.LastCrawledAt = &now
	}
	return nil
}

func (s *stubStore) ParameterizedResources(ctx context.Context, scope string) ([]models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resources == 0 {
		return nil, nil
	}
	return []models.Resource{{
		Domain:     scope,
		URL:        "https://" + scope + "/search?q=1",
		Method:     "GET",
		Parameters: models.StringMap{"q": "1"},
	}}, nil
}

func (s *stubStore) AppendFindings(ctx context.Context, findings []models.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, findings...)
	return nil
}

func (s *stubStore) CountsByScope(ctx context.Context, scope string) (models.ScopeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := models.ScopeCounts{
		Targets:   int64(len(s.targets)),
		Resources: int64(s.resources),
		Scripts:   int64(s.scripts),
		Findings:  int64(len(s.findings)),
	}
	for _, t := range s.targets {
		if t.Alive {
			counts.LiveTargets++
		}
	}
	return counts, nil
}

func (s *stubStore) FindingsByScope(ctx context.Context, scope string) ([]models.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Finding(nil), s.findings...), nil
}

func (s *stubStore) crawlCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

func (s *stubStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

type stubPassive struct {
	names        []string
	delay        time.Duration
	installedErr error
}

func (p *stubPassive) Enumerate(ctx context.Context, domain string) ([]string, error) {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	return p.names, nil
}

func (p *stubPassive) CheckInstalled() error { return p.installedErr }

// stubProber treats everything as a live host on 93.184.216.34.
type stubProber struct{}

func (p *stubProber) Resolve(ctx context.Context, domain string) ([]string, error) {
	return []string{"93.184.216.34"}, nil
}

func (p *stubProber) ProbeHTTP(ctx context.Context, domain string) (int, string, error) {
	return 200, "OK", nil
}

func (p *stubProber) CheckTakeover(ctx context.Context, domain string) (bool, error) {
	return false, nil
}

type stubCrawler struct {
	mu           sync.Mutex
	calls        int
	crawlErr     error
	installedErr error
}

func (c *stubCrawler) CrawlAll(ctx context.Context, target string) ([]katana.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.crawlErr != nil {
		return nil, c.crawlErr
	}
	return []katana.Result{{
		URL:        "https://" + target + "/search?q=1",
		Method:     "GET",
		Source:     models.SourceCrawler,
		StatusCode: 200,
		Parameters: map[string]string{"q": "1"},
	}}, nil
}

func (c *stubCrawler) CheckInstalled() error { return c.installedErr }

func (c *stubCrawler) crawled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubVulnProbe struct {
	hit bool
}

func (v *stubVulnProbe) Probe(ctx context.Context, resource *models.Resource) ([]models.Finding, error) {
	if !v.hit {
		return nil, nil
	}
	return []models.Finding{{
		Type:       "reflected_xss",
		Severity:   models.SeverityHigh,
		Domain:     resource.Domain,
		URL:        resource.URL,
		Method:     resource.Method,
		Parameter:  "q",
		DetectedAt: time.Now().UTC(),
	}}, nil
}

// captureNotifier records what would have gone to Discord.
type captureNotifier struct {
	mu       sync.Mutex
	report   *models.ScanReport
	findings []models.Finding
	sendErr  error
}

func (n *captureNotifier) SendScanCompleteMessage(report *models.ScanReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.report = report
	return n.sendErr
}

func (n *captureNotifier) SendFindingAlerts(findings []models.Finding) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.findings = append(n.findings, findings...)
}

func (n *captureNotifier) sentReport() *models.ScanReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.report
}

func (n *captureNotifier) alerted() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.findings)
}

var errStubQuery = errors.New("stub query failure")
