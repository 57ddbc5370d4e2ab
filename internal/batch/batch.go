// Package batch applies a function to many items with bounded concurrency,
// a fixed retry budget and a per-item report.
package batch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options controls how Run dispatches items.
type Options struct {
	// Workers is the number of items in flight. Values below 1 mean 1.
	Workers int
	// MaxAttempts is the number of tries per item. Values below 1 mean 1.
	MaxAttempts int
	// RetryDelay is the pause between attempts of one item.
	RetryDelay time.Duration
	// Retryable reports whether a failed attempt may be tried again.
	// Nil retries every error except context cancellation.
	Retryable func(error) bool
	// OnItem is called after each item finishes. It may be called concurrently.
	OnItem func(index int, err error)
}

// Outcome is the result of one item. Outcomes keep the input order.
type Outcome[T, R any] struct {
	Item     T
	Value    R
	Attempts int
	Err      error
}

// Run applies fn to every item. A failing item never stops its siblings.
// Once ctx is done, items that have not started are reported with ctx.Err().
func Run[T, R any](ctx context.Context, items []T, opts Options, fn func(context.Context, T) (R, error)) []Outcome[T, R] {
	out := make([]Outcome[T, R], len(items))
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		out[i].Item = item

		if err := ctx.Err(); err != nil {
			out[i].Err = err
			notify(opts, i, err)
			continue
		}

		g.Go(func() error {
			value, attempts, err := Retry(ctx, opts, func(ctx context.Context) (R, error) {
				return fn(ctx, item)
			})
			out[i].Value = value
			out[i].Attempts = attempts
			out[i].Err = err
			notify(opts, i, err)
			return nil
		})
	}

	_ = g.Wait()
	return out
}

// Retry calls fn until it succeeds, returns a non-retryable error or the
// attempt budget is spent. It returns the last value, the number of attempts
// made and the last error.
func Retry[R any](ctx context.Context, opts Options, fn func(context.Context) (R, error)) (R, int, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var (
		value R
		err   error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err = fn(ctx)
		if err == nil {
			return value, attempt, nil
		}
		if attempt == maxAttempts || !retryable(err) {
			return value, attempt, err
		}
		if opts.RetryDelay > 0 {
			timer := time.NewTimer(opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return value, attempt, err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return value, attempt, err
		}
	}
	return value, maxAttempts, err
}

// DefaultRetryable retries everything but context cancellation and deadlines.
func DefaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func notify(opts Options, i int, err error) {
	if opts.OnItem != nil {
		opts.OnItem(i, err)
	}
}
