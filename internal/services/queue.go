package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/pkg/logger"
)

// ScanQueue bounds how many scans run at once with a simple semaphore.
// Each service owns its queue; there is no process-wide instance.
type ScanQueue struct {
	semaphore chan struct{}
	running   int
	queued    int
	mu        sync.Mutex
	logger    *logger.Logger
}

func NewScanQueue(maxConcurrent int, log *logger.Logger) *ScanQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logger.NewLogger(logrus.InfoLevel)
	}

	q := &ScanQueue{
		semaphore: make(chan struct{}, maxConcurrent),
		logger:    log,
	}
	q.logger.WithFields(logger.Fields{
		"max_concurrent": maxConcurrent,
	}).Info("Scan queue initialized")
	return q
}

// Execute blocks until a slot is available, then runs fn. A context that
// dies while waiting abandons the wait and returns its error; once fn is
// running, the slot is held until fn returns.
func (q *ScanQueue) Execute(ctx context.Context, fn func() error) error {
	q.mu.Lock()
	q.queued++
	currentQueued := q.queued
	currentRunning := q.running
	q.mu.Unlock()

	q.logger.WithFields(logger.Fields{
		"queued":  currentQueued,
		"running": currentRunning,
		"slots":   cap(q.semaphore),
	}).Info("Scan added to queue")

	select {
	case q.semaphore <- struct{}{}:
	case <-ctx.Done():
		q.mu.Lock()
		q.queued--
		q.mu.Unlock()
		return ctx.Err()
	}

	q.mu.Lock()
	q.queued--
	q.running++
	startQueued := q.queued
	startRunning := q.running
	q.mu.Unlock()

	q.logger.WithFields(logger.Fields{
		"running": startRunning,
		"queued":  startQueued,
	}).Info("Scan execution started")

	defer func() {
		<-q.semaphore
		q.mu.Lock()
		q.running--
		remainingRunning := q.running
		remainingQueued := q.queued
		q.mu.Unlock()

		q.logger.WithFields(logger.Fields{
			"running": remainingRunning,
			"queued":  remainingQueued,
		}).Info("Scan execution completed, slot released")
	}()

	return fn()
}

// Status returns the current queue occupancy.
func (q *ScanQueue) Status() (running, queued, maxConcurrent int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running, q.queued, cap(q.semaphore)
}
