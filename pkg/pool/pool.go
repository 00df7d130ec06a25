// Package pool runs bounded batches of independent work items with
// per-task deadlines. It is the concurrency primitive under every scan
// phase: enumeration probes, crawls and vulnerability checks all go
// through Run.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status classifies one item's fate.
type Status int

const (
	// StatusSucceeded means the worker returned nil.
	StatusSucceeded Status = iota
	// StatusFailed means the worker returned an error or panicked.
	StatusFailed
	// StatusTimedOut means the per-task deadline expired before the
	// worker came back.
	StatusTimedOut
	// StatusSkipped means the item was never started: the batch context
	// was cancelled before its slot came up.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome reports what happened to one input item. Run returns exactly one
// Outcome per item, index-aligned with the input slice, so callers can
// tell succeeded, processed-but-failed and never-attempted apart.
type Outcome[T any] struct {
	Item     T
	Status   Status
	Err      error
	Duration time.Duration
}

// Worker processes a single item under its per-task context.
type Worker[T any] func(ctx context.Context, item T) error

// Run executes worker over items with at most maxConcurrency in flight and
// perTaskTimeout applied to each item.
//
// Admission is a semaphore: the loop blocks until a slot frees or ctx is
// cancelled. Cancellation stops admission (remaining items become
// StatusSkipped), signals in-flight workers through their task contexts,
// and preserves every outcome already produced. A worker that never
// returns is abandoned at its deadline so it cannot stall the rest of the
// batch; its goroutine keeps running but its slot is released.
func Run[T any](ctx context.Context, items []T, worker Worker[T], maxConcurrency int, perTaskTimeout time.Duration) []Outcome[T] {
	outcomes := make([]Outcome[T], len(items))
	if len(items) == 0 {
		return outcomes
	}
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		if ctx.Err() != nil {
			outcomes[i] = Outcome[T]{Item: item, Status: StatusSkipped, Err: ctx.Err()}
			continue
		}

		select {
		case <-ctx.Done():
			outcomes[i] = Outcome[T]{Item: item, Status: StatusSkipped, Err: ctx.Err()}
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = runOne(ctx, item, worker, perTaskTimeout)
		}(i, item)
	}

	wg.Wait()
	return outcomes
}

func runOne[T any](ctx context.Context, item T, worker Worker[T], perTaskTimeout time.Duration) Outcome[T] {
	taskCtx, cancel := context.WithTimeout(ctx, perTaskTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("worker panic: %v", r)
			}
		}()
		done <- worker(taskCtx, item)
	}()

	select {
	case err := <-done:
		return classify(item, err, time.Since(start))
	case <-taskCtx.Done():
		// Worker missed its deadline. The goroutine is left behind with a
		// cancelled context; the slot moves on to the next item.
		return classify(item, taskCtx.Err(), time.Since(start))
	}
}

func classify[T any](item T, err error, elapsed time.Duration) Outcome[T] {
	out := Outcome[T]{Item: item, Duration: elapsed}
	switch {
	case err == nil:
		out.Status = StatusSucceeded
	case errors.Is(err, context.DeadlineExceeded):
		out.Status = StatusTimedOut
		out.Err = err
	default:
		out.Status = StatusFailed
		out.Err = err
	}
	return out
}

// Tally counts outcomes by status.
func Tally[T any](outcomes []Outcome[T]) (succeeded, failed, timedOut, skipped int) {
	for _, o := range outcomes {
		switch o.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusTimedOut:
			timedOut++
		case StatusSkipped:
			skipped++
		}
	}
	return
}
