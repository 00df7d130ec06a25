package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ntsmith7/peekaboo/pkg/errors"
)

// preflight verifies the scan can actually run before any state moves:
// scanner binaries on PATH, store reachable. The checks run concurrently
// and the first failure wins.
func (o *Orchestrator) preflight(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := o.store.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrStoreUnreachable, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := o.passive.CheckInstalled(); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrScannerNotFound, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := o.crawler.CheckInstalled(); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrScannerNotFound, err)
		}
		return nil
	})

	return g.Wait()
}
