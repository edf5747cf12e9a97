// Package batch runs per-item work in fixed-size concurrent batches.
//
// The remote API is rate limited, so batches are strictly sequential: the
// scheduler waits for every item in a batch to settle before starting the
// next one, bounding peak concurrency at the batch size. One item failing
// never aborts its siblings; each item's outcome is reported individually
// and the caller decides how to aggregate (both workflows skip-and-log).
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Default batch sizes. Blob creation is more expensive per call than blob
// reads, so exports run narrower.
const (
	DefaultImportSize = 10
	DefaultExportSize = 5
)

// Result is the settled outcome of one work item.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[R]) OK() bool { return r.Err == nil }

// Run processes items in ceil(len/size) sequential batches, running the
// items within a batch concurrently. Results are returned in input order,
// one per item, errors included.
//
// Context cancellation is checked between batches; items already in flight
// run to completion. The ctx error is recorded on all unprocessed items.
func Run[T, R any](ctx context.Context, items []T, size int, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	if size < 1 {
		size = 1
	}

	results := make([]Result[R], len(items))
	for i := range results {
		results[i].Index = i
	}

	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i].Err = err
			}
			return results
		}

		end := start + size
		if end > len(items) {
			end = len(items)
		}

		// Plain group, no derived cancel context: a failed item must not
		// cancel its siblings.
		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i].Value, results[i].Err = fn(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

// Successes filters results down to the successful values, in input order.
func Successes[R any](results []Result[R]) []R {
	out := make([]R, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Value)
		}
	}
	return out
}

// Failures filters results down to the failed items.
func Failures[R any](results []Result[R]) []Result[R] {
	var out []Result[R]
	for _, r := range results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
