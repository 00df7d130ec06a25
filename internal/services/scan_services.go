package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/dao"
	"github.com/ntsmith7/peekaboo/internal/models"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/engine"
	apperrors "github.com/ntsmith7/peekaboo/pkg/errors"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
)

type StartScanRequest struct {
	Domain            string
	IncludeBruteforce bool
	TimeoutMinutes    int
}

type ScanServiceMethods interface {
	StartScan(req StartScanRequest) (string, error)
	GetScanByUUID(id string) (*models.Scan, error)
	ListScans() ([]models.Scan, error)
	GetScanReport(id string) (*models.ScanReport, error)
	CancelScan(id string) error
	QueueStatus() (running, queued, maxConcurrent int)
}

// ScanStore is what the service needs from durable storage: the engine
// contract plus findings retrieval for alerting.
type ScanStore interface {
	engine.Store
	FindingsByScope(ctx context.Context, scope string) ([]models.Finding, error)
}

// Notifier posts scan outcomes to an external channel. A nil notifier
// means notifications are off.
type Notifier interface {
	SendScanCompleteMessage(report *models.ScanReport) error
	SendFindingAlerts(findings []models.Finding)
}

// ScanServiceDeps wires the service. ScanDAO, Store and the four engine
// collaborators are required; Metrics and Notifier may be nil.
type ScanServiceDeps struct {
	ScanDAO   dao.ScanDAO
	Store     ScanStore
	Passive   engine.PassiveScanner
	Prober    engine.Prober
	Crawler   engine.CrawlEngine
	VulnProbe engine.VulnerabilityProbe
	Metrics   *metrics.Recorder
	Notifier  Notifier
	Config    *config.AppConfig
	Logger    *logger.Logger
}

type scanService struct {
	deps     ScanServiceDeps
	queue    *ScanQueue
	status   *ScanStatusManager
	wordlist []string
	logger   *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewScanService(deps ScanServiceDeps) (ScanServiceMethods, error) {
	switch {
	case deps.ScanDAO == nil:
		return nil, fmt.Errorf("%w: scan DAO is required", apperrors.ErrInvalidConfig)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store is required", apperrors.ErrInvalidConfig)
	case deps.Passive == nil || deps.Prober == nil || deps.Crawler == nil || deps.VulnProbe == nil:
		return nil, fmt.Errorf("%w: engine collaborators are required", apperrors.ErrInvalidConfig)
	case deps.Config == nil:
		return nil, fmt.Errorf("%w: app config is required", apperrors.ErrInvalidConfig)
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewLogger(logrus.InfoLevel)
	}

	var wordlist []string
	if path := deps.Config.Scan.Bruteforce.Wordlist; path != "" {
		words, err := config.ReadWordlist(path)
		if err != nil {
			return nil, err
		}
		wordlist = words
	}

	return &scanService{
		deps:     deps,
		queue:    NewScanQueue(deps.Config.Scan.MaxConcurrentScans, log),
		status:   newScanStatusManager(deps.ScanDAO, log),
		wordlist: wordlist,
		logger:   log,
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// StartScan records the scan, hands it to a background runner and returns
// its id immediately. The queue decides when it actually executes.
func (s *scanService) StartScan(req StartScanRequest) (string, error) {
	domain := utils.NormalizeDomain(req.Domain)
	if domain == "" {
		return "", fmt.Errorf("%w: domain is required", apperrors.ErrInvalidConfig)
	}

	id := uuid.New().String()
	scan := &models.Scan{
		UUID:              id,
		Domain:            domain,
		Status:            models.ScanStatusQueued,
		IncludeBruteforce: req.IncludeBruteforce,
		TimeoutSeconds:    req.TimeoutMinutes * 60,
	}

	if err := s.deps.ScanDAO.CreateScan(scan); err != nil {
		s.logger.WithFields(logger.Fields{"error": err, "domain": domain}).Error("Failed to create scan record")
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	go s.runScan(ctx, scan)

	s.logger.WithScan(id, domain).Info("Scan accepted")
	return id, nil
}

func (s *scanService) runScan(ctx context.Context, scan *models.Scan) {
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[scan.UUID]; ok {
			cancel()
			delete(s.cancels, scan.UUID)
		}
		s.mu.Unlock()

		if r := recover(); r != nil {
			s.logger.WithFields(logger.Fields{"scan_id": scan.UUID, "panic": r}).Error("panic in background scan")
			s.status.MarkFailedWithReason(scan.UUID, fmt.Sprintf("panic during scan: %v", r))
		}
	}()

	err := s.queue.Execute(ctx, func() error {
		s.execute(ctx, scan)
		return nil
	})
	if err != nil {
		// Never got a slot; the caller cancelled while the scan was queued.
		s.logger.WithScan(scan.UUID, scan.Domain).Info("Scan cancelled while queued")
		s.status.MarkCancelled(scan.UUID)
	}
}

func (s *scanService) execute(ctx context.Context, scan *models.Scan) {
	if err := s.status.UpdateStatus(scan.UUID, models.ScanStatusRunning); err != nil {
		s.logger.WithFields(logger.Fields{"scan_id": scan.UUID, "error": err}).Error("Failed to update scan to running")
	}

	orch, err := s.newOrchestrator(scan)
	if err != nil {
		s.status.MarkFailedWithReason(scan.UUID, err.Error())
		return
	}

	report, runErr := orch.Run(ctx, scan.Domain)
	if report == nil {
		reason := "scan aborted before starting"
		if runErr != nil {
			reason = runErr.Error()
		}
		s.status.MarkFailedWithReason(scan.UUID, reason)
		return
	}

	s.recordOutcome(scan, report)
	s.notify(report)
}

func (s *scanService) newOrchestrator(scan *models.Scan) (*engine.Orchestrator, error) {
	cfg := s.deps.Config.Scan

	overall := cfg.OverallTimeout
	if scan.TimeoutSeconds > 0 {
		overall = time.Duration(scan.TimeoutSeconds) * time.Second
	}

	opts := []engine.OptFunc{
		engine.WithStore(s.deps.Store),
		engine.WithPassiveScanner(s.deps.Passive),
		engine.WithProber(s.deps.Prober),
		engine.WithCrawler(s.deps.Crawler),
		engine.WithVulnerabilityProbe(s.deps.VulnProbe),
		engine.WithMetrics(s.deps.Metrics),
		engine.WithLogger(s.logger),
		engine.WithPhaseConcurrency(cfg.DiscoveryConcurrency, cfg.CrawlConcurrency, cfg.VulnConcurrency),
		engine.WithPhaseTimeouts(cfg.DiscoveryTimeout, cfg.CrawlTimeout),
		engine.WithTaskTimeouts(cfg.ProbeTimeout, cfg.CrawlTargetTimeout, cfg.VulnResourceTimeout),
		engine.WithOverallTimeout(overall),
	}
	if scan.IncludeBruteforce || cfg.Bruteforce.Enabled {
		opts = append(opts, engine.WithBruteforce(s.wordlist))
	}
	return engine.NewOrchestrator(opts...)
}

func (s *scanService) recordOutcome(scan *models.Scan, report *models.ScanReport) {
	scan.Status = models.ScanStatus(report.Status)
	scan.ErrorMessage = report.Error
	completed := report.CompletionTime
	scan.CompletedAt = &completed

	if data, err := json.Marshal(report); err != nil {
		s.logger.WithFields(logger.Fields{"scan_id": scan.UUID, "error": err}).Error("Failed to serialize report")
	} else {
		scan.Report = string(data)
	}

	if err := s.deps.ScanDAO.UpdateScan(scan); err != nil {
		s.logger.WithFields(logger.Fields{"scan_id": scan.UUID, "error": err}).Error("Failed to persist scan outcome")
	}
}

func (s *scanService) notify(report *models.ScanReport) {
	if s.deps.Notifier == nil {
		return
	}

	if err := s.deps.Notifier.SendScanCompleteMessage(report); err != nil {
		s.logger.WithFields(logger.Fields{"error": err}).Error("Failed to send scan notification")
	}

	if report.FindingsDiscovered == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	findings, err := s.deps.Store.FindingsByScope(ctx, report.Target)
	if err != nil {
		s.logger.WithFields(logger.Fields{"error": err}).Error("Failed to load findings for alerting")
		return
	}
	s.deps.Notifier.SendFindingAlerts(findings)
}

func (s *scanService) GetScanByUUID(id string) (*models.Scan, error) {
	scan, err := s.deps.ScanDAO.GetScanByUUID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrScanNotFound
		}
		return nil, err
	}
	return scan, nil
}

func (s *scanService) ListScans() ([]models.Scan, error) {
	return s.deps.ScanDAO.ListScans()
}

// GetScanReport returns the final report of a finished scan. A running
// scan has no report yet; callers surface that as a conflict.
func (s *scanService) GetScanReport(id string) (*models.ScanReport, error) {
	scan, err := s.GetScanByUUID(id)
	if err != nil {
		return nil, err
	}
	if !scan.Status.Terminal() {
		return nil, fmt.Errorf("%w: scan %s is %s", apperrors.ErrScanNotFinished, id, scan.Status)
	}
	if scan.Report == "" {
		return nil, fmt.Errorf("scan %s finished without a report", id)
	}

	var report models.ScanReport
	if err := json.Unmarshal([]byte(scan.Report), &report); err != nil {
		return nil, fmt.Errorf("parse stored report: %w", err)
	}
	return &report, nil
}

// CancelScan stops an in-flight or queued scan. Cancelling a finished
// scan is an error, not a no-op, so callers learn they were late.
func (s *scanService) CancelScan(id string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()

	if ok {
		cancel()
		s.logger.WithFields(logger.Fields{"scan_id": id}).Info("Scan cancellation requested")
		return nil
	}

	scan, err := s.GetScanByUUID(id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: scan %s is %s", apperrors.ErrScanFinished, id, scan.Status)
}

func (s *scanService) QueueStatus() (running, queued, maxConcurrent int) {
	return s.queue.Status()
}
