// Package fanout provides a small bounded worker pool for per-host work
// within a single job handler.
package fanout

import "context"

// Result pairs an input item with the outcome of running it.
type Result[H any] struct {
	Item H
	Err  error
}

// Run executes fn for every item in items, bounded to at most
// min(maxConcurrency, len(items)) concurrent goroutines, and returns one
// Result per item in the same order. Run itself never returns an error;
// per-item failures are carried in Result.Err for the caller to classify,
// so one bad host never terminates the fan-out.
func Run[H any](ctx context.Context, items []H, maxConcurrency int, fn func(context.Context, H) error) []Result[H] {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if maxConcurrency > len(items) {
		maxConcurrency = len(items)
	}
	if maxConcurrency == 0 {
		return nil
	}

	results := make([]Result[H], len(items))
	sem := make(chan struct{}, maxConcurrency)
	done := make(chan struct{}, len(items))

	for i, item := range items {
		sem <- struct{}{}
		go func(i int, item H) {
			defer func() { <-sem; done <- struct{}{} }()
			err := fn(ctx, item)
			results[i] = Result[H]{Item: item, Err: err}
		}(i, item)
	}
	for range items {
		<-done
	}
	return results
}

// DefaultMaxConcurrency is the per-job fan-out bound.
const DefaultMaxConcurrency = 20
