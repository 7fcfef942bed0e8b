package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunBoundsConcurrency(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var inFlight int32
	var maxSeen int32
	results := Run(context.Background(), items, 5, func(ctx context.Context, item int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return nil
	})

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	if maxSeen > 5 {
		t.Errorf("expected at most 5 concurrent executions, saw %d", maxSeen)
	}
}

func TestRunCarriesPerItemErrors(t *testing.T) {
	items := []string{"a", "b", "c"}
	boom := errors.New("boom")

	results := Run(context.Background(), items, 2, func(ctx context.Context, item string) error {
		if item == "b" {
			return boom
		}
		return nil
	})

	for _, r := range results {
		if r.Item == "b" {
			if !errors.Is(r.Err, boom) {
				t.Errorf("expected item b to carry its error, got %v", r.Err)
			}
		} else if r.Err != nil {
			t.Errorf("expected item %s to succeed, got %v", r.Item, r.Err)
		}
	}
}

func TestRunHandlesEmptyInput(t *testing.T) {
	results := Run(context.Background(), []int{}, 5, func(ctx context.Context, item int) error { return nil })
	if results != nil {
		t.Fatalf("expected nil results for empty input, got %v", results)
	}
}
