package core

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// Reporter collects fetch completions from concurrent workers and hands
// them out fastest first. Record never blocks on a reader; Next waits on a
// notification channel, not on the mutex.
type Reporter struct {
	mu       sync.Mutex
	pending  []api.FetchResult
	expected int
	yielded  int
	notify   chan struct{}
}

// NewReporter creates a reporter expecting n results.
func NewReporter(n int) *Reporter {
	return &Reporter{expected: n, notify: make(chan struct{}, 1)}
}

// Expect declares n more outstanding results. A negative n withdraws
// results that will never be recorded.
func (r *Reporter) Expect(n int) {
	r.mu.Lock()
	r.expected += n
	r.mu.Unlock()
	r.signal()
}

// Record adds one result. Safe for concurrent use.
func (r *Reporter) Record(res api.FetchResult) {
	r.mu.Lock()
	r.pending = append(r.pending, res)
	r.mu.Unlock()
	r.signal()
}

func (r *Reporter) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Feed records every result received on ch until it is closed.
func (r *Reporter) Feed(ch <-chan api.FetchResult) {
	for res := range ch {
		r.Record(res)
	}
}

// Next blocks until at least one result is pending and returns all pending
// results ordered by ascending duration; equal durations keep arrival order.
// It returns an empty batch once every expected result has been yielded.
func (r *Reporter) Next(ctx context.Context) ([]api.FetchResult, error) {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 && r.yielded >= r.expected {
			r.mu.Unlock()
			return nil, nil
		}
		if len(r.pending) > 0 {
			batch := r.pending
			r.pending = nil
			r.yielded += len(batch)
			r.mu.Unlock()
			slices.SortStableFunc(batch, func(a, b api.FetchResult) int { return cmp.Compare(a.Elapsed, b.Elapsed) })
			return batch, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		}
	}
}

// Done reports whether every expected result has been yielded.
func (r *Reporter) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.yielded >= r.expected
}

// Drain calls fn for every result until all expected results were yielded
// or ctx is cancelled.
func (r *Reporter) Drain(ctx context.Context, fn func(api.FetchResult)) error {
	for !r.Done() {
		batch, err := r.Next(ctx)
		if err != nil {
			return err
		}
		for _, res := range batch {
			fn(res)
		}
	}
	return nil
}

// FormatResult renders the operator-facing completion line.
func FormatResult(res api.FetchResult) string {
	return fmt.Sprintf("%s downloaded in %.2f seconds. (%s)", res.Name, res.Elapsed.Seconds(), humanize.Bytes(uint64(res.Bytes)))
}
