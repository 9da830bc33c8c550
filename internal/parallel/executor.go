// Package parallel runs independent operations across a bounded worker pool.
package parallel

import (
	"context"
	"sync"
)

// Result pairs an input item with the outcome of its operation.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Map applies fn to every item using at most workers goroutines and returns
// results in input order. A canceled context stops dispatching new items;
// in-flight operations observe the cancellation through their own ctx.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) []Result[T, R] {
	if workers <= 0 {
		workers = 4
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]Result[T, R], len(items))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				value, err := fn(ctx, items[i])
				results[i] = Result[T, R]{Item: items[i], Value: value, Err: err}
			}
		}()
	}

	for i := range items {
		select {
		case <-ctx.Done():
			results[i] = Result[T, R]{Item: items[i], Err: ctx.Err()}
			continue
		case indexes <- i:
		}
	}
	close(indexes)
	wg.Wait()

	return results
}
