package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/models"
	apperrors "github.com/ntsmith7/peekaboo/pkg/errors"
	"github.com/ntsmith7/peekaboo/pkg/retry"
	"github.com/ntsmith7/peekaboo/pkg/testutil"
)

func testCrawldConfig() config.CrawldConfig {
	return config.CrawldConfig{
		PollInterval:  time.Hour,
		BatchSize:     50,
		Concurrency:   2,
		TargetTimeout: 5 * time.Second,
		MaxFailures:   5,
	}
}

func seedLiveTargets(t *testing.T, store *stubStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		target := &models.Target{
			Name:   fmt.Sprintf("host%d.example.com", i),
			Source: models.SourcePassive,
			Alive:  true,
		}
		testutil.AssertNoError(t, store.UpsertTarget(context.Background(), target))
	}
}

func TestNewCrawlServiceRequiresStoreAndCrawler(t *testing.T) {
	_, err := NewCrawlService(nil, &stubCrawler{}, nil, testCrawldConfig(), nil)
	if !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	_, err = NewCrawlService(newStubStore(), nil, nil, testCrawldConfig(), nil)
	if !errors.Is(err, apperrors.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCrawlServiceCrawlsPendingTargets(t *testing.T) {
	store := newStubStore()
	seedLiveTargets(t, store, 3)
	crawler := &stubCrawler{}

	svc, err := NewCrawlService(store, crawler, nil, testCrawldConfig(), nil)
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, "example.com") }()

	waitFor(t, func() bool { return store.crawlCalls() == 3 })
	cancel()
	testutil.AssertNoError(t, <-done)
	testutil.AssertEquals(t, 3, crawler.crawled())
}

func TestCrawlServiceHonorsBatchSize(t *testing.T) {
	store := newStubStore()
	seedLiveTargets(t, store, 8)
	crawler := &stubCrawler{}

	cfg := testCrawldConfig()
	cfg.BatchSize = 5

	svc, err := NewCrawlService(store, crawler, nil, cfg, nil)
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, "example.com") }()

	// The hour-long poll interval keeps this to exactly one batch.
	waitFor(t, func() bool { return store.crawlCalls() == 5 })
	cancel()
	testutil.AssertNoError(t, <-done)
	testutil.AssertEquals(t, 5, crawler.crawled())
}

func TestCrawlServiceStopsAfterConsecutiveFailures(t *testing.T) {
	store := newStubStore()
	store.queryErr = errStubQuery

	cfg := testCrawldConfig()
	cfg.MaxFailures = 3

	svc, err := NewCrawlService(store, &stubCrawler{}, nil, cfg, nil)
	testutil.AssertNoError(t, err)
	svc.backoff = &retry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}

	err = svc.Run(context.Background(), "example.com")
	if !errors.Is(err, apperrors.ErrTooManyFailures) {
		t.Fatalf("expected ErrTooManyFailures, got %v", err)
	}
	testutil.AssertEquals(t, 3, store.queryCount())
}

func TestCrawlServiceResetsFailuresAfterSuccess(t *testing.T) {
	store := newStubStore()
	// Two failures, one success, repeating. With the reset in place the
	// failure streak never reaches three.
	store.queryFn = func(call int) error {
		if call%3 != 0 {
			return errStubQuery
		}
		return nil
	}

	cfg := testCrawldConfig()
	cfg.MaxFailures = 3
	cfg.PollInterval = time.Millisecond

	svc, err := NewCrawlService(store, &stubCrawler{}, nil, cfg, nil)
	testutil.AssertNoError(t, err)
	svc.backoff = &retry.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, "example.com") }()

	waitFor(t, func() bool { return store.queryCount() >= 7 })
	cancel()
	testutil.AssertNoError(t, <-done)
}

func TestCrawlServiceShutsDownDuringSleep(t *testing.T) {
	store := newStubStore()

	svc, err := NewCrawlService(store, &stubCrawler{}, nil, testCrawldConfig(), nil)
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, "example.com") }()

	waitFor(t, func() bool { return store.queryCount() >= 1 })
	cancel()
	testutil.AssertNoError(t, <-done)
}

func TestCrawlServiceDefaultsZeroConfig(t *testing.T) {
	svc, err := NewCrawlService(newStubStore(), &stubCrawler{}, nil, config.CrawldConfig{}, nil)
	testutil.AssertNoError(t, err)

	testutil.AssertEquals(t, 5*time.Minute, svc.pollInterval)
	testutil.AssertEquals(t, 50, svc.batchSize)
	testutil.AssertEquals(t, 5, svc.maxFailures)
}
