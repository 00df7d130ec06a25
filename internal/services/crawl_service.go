package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/pkg/engine"
	apperrors "github.com/ntsmith7/peekaboo/pkg/errors"
	"github.com/ntsmith7/peekaboo/pkg/logger"
	"github.com/ntsmith7/peekaboo/pkg/retry"
)

// CrawlService runs the standing crawl loop: poll for live targets that
// have never been crawled, crawl them in batches, repeat. Poll failures
// back off exponentially; too many in a row stop the service.
type CrawlService struct {
	store   engine.Store
	crawl   *engine.CrawlPhase
	backoff *retry.Backoff
	logger  *logger.Logger

	pollInterval time.Duration
	batchSize    int
	maxFailures  int
}

func NewCrawlService(store engine.Store, crawler engine.CrawlEngine, analyzer engine.ContentAnalyzer, cfg config.CrawldConfig, log *logger.Logger) (*CrawlService, error) {
	if store == nil || crawler == nil {
		return nil, fmt.Errorf("%w: store and crawler are required", apperrors.ErrInvalidConfig)
	}
	if log == nil {
		log = logger.NewLogger(logrus.InfoLevel)
	}

	phase := engine.NewCrawlPhase(store, crawler, analyzer,
		engine.WithCrawlConcurrency(cfg.Concurrency),
		engine.WithCrawlTimeout(cfg.TargetTimeout),
		engine.WithCrawlLogger(log),
	)

	s := &CrawlService{
		store:        store,
		crawl:        phase,
		backoff:      retry.NewBackoff(),
		logger:       log,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		maxFailures:  cfg.MaxFailures,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.maxFailures <= 0 {
		s.maxFailures = 5
	}
	return s, nil
}

// Run polls until the context is cancelled or maxFailures consecutive
// polls fail. Cancellation is a clean shutdown and returns nil.
func (s *CrawlService) Run(ctx context.Context, scope string) error {
	s.logger.WithFields(logger.Fields{
		"scope":    scope,
		"interval": s.pollInterval.String(),
		"batch":    s.batchSize,
	}).Info("Crawl service started")

	failures := 0
	for {
		crawled, err := s.runOnce(ctx, scope)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Crawl service stopped")
				return nil
			}

			failures++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"failures": failures,
				"max":      s.maxFailures,
			}).Error("Crawl poll failed")

			if failures >= s.maxFailures {
				return fmt.Errorf("%w: %d consecutive poll failures", apperrors.ErrTooManyFailures, failures)
			}
			if !s.sleep(ctx, s.backoff.Delay(failures)) {
				return nil
			}
			continue
		}

		failures = 0
		if crawled > 0 {
			s.logger.WithFields(logger.Fields{"crawled": crawled}).Info("Crawl batch finished")
		}
		if !s.sleep(ctx, s.pollInterval) {
			s.logger.Info("Crawl service stopped")
			return nil
		}
	}
}

// runOnce crawls up to batchSize pending targets and reports how many
// succeeded. No pending targets is a successful, empty poll.
func (s *CrawlService) runOnce(ctx context.Context, scope string) (int, error) {
	targets, err := s.store.LiveUncrawledTargets(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("query pending targets: %w", err)
	}
	if len(targets) == 0 {
		s.logger.WithFields(logger.Fields{"scope": scope}).Debug("No targets pending crawl")
		return 0, nil
	}
	if len(targets) > s.batchSize {
		targets = targets[:s.batchSize]
	}

	summary, err := s.crawl.Run(ctx, targets)
	if err != nil {
		return 0, err
	}
	if summary.Crawled == 0 && summary.Failed+summary.TimedOut > 0 {
		return 0, errors.New("all targets in batch failed to crawl")
	}
	return summary.Crawled, nil
}

func (s *CrawlService) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
