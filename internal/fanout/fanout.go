// Package fanout runs one task per item and joins them all-settled: a failing item never
// cancels or hides the result of its siblings.
package fanout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of the task for one item. Results keep the order of the input items.
type Result[I, O any] struct {
	Item  I
	Value O
	Err   error
}

// AllSettled runs fn for every item concurrently and waits for all of them. At most limit tasks
// run at once when limit is positive. A panicking task is reported as an error for its item.
func AllSettled[I, O any](ctx context.Context, limit int, items []I, fn func(context.Context, I) (O, error)) []Result[I, O] {
	results := make([]Result[I, O], len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		results[i].Item = item
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("task panicked: %v", r)
				}
			}()

			results[i].Value, results[i].Err = fn(ctx, item)

			return nil
		})
	}
	_ = g.Wait()

	return results
}
