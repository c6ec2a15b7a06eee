// Package pool provides the bounded-concurrency runner shared by the OPML
// importer and the refresh scheduler.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// ForEach runs fn over the indexes [0, n) with at most workers calls in
// flight at once. Workers pull the next unclaimed index until the list is
// exhausted; every outcome is collected and a failure never short-circuits
// the rest. The returned slice holds one error (or nil) per index.
//
// Context cancellation stops claiming new work; already-claimed items run to
// completion and unclaimed items report the context error.
func ForEach(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= n {
					return
				}
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				errs[i] = fn(ctx, i)
			}
		}()
	}
	wg.Wait()
	return errs
}
