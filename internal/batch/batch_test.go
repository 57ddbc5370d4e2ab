package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRun_KeepsOrderAndIsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6}

	out := Run(context.Background(), items, Options{Workers: 3, MaxAttempts: 1}, func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, errBoom
		}
		return n * 10, nil
	})

	require.Len(t, out, len(items))
	for i, o := range out {
		assert.Equal(t, items[i], o.Item)
		if o.Item == 3 {
			assert.ErrorIs(t, o.Err, errBoom)
			continue
		}
		assert.NoError(t, o.Err)
		assert.Equal(t, o.Item*10, o.Value)
		assert.Equal(t, 1, o.Attempts)
	}
}

func TestRun_RetriesUpToMaxAttempts(t *testing.T) {
	var calls sync.Map

	out := Run(context.Background(), []string{"flaky", "broken"}, Options{Workers: 2, MaxAttempts: 3}, func(_ context.Context, s string) (string, error) {
		v, _ := calls.LoadOrStore(s, new(int32))
		n := atomic.AddInt32(v.(*int32), 1)
		if s == "flaky" && n < 2 {
			return "", errBoom
		}
		if s == "broken" {
			return "", errBoom
		}
		return s, nil
	})

	assert.NoError(t, out[0].Err)
	assert.Equal(t, 2, out[0].Attempts)
	assert.ErrorIs(t, out[1].Err, errBoom)
	assert.Equal(t, 3, out[1].Attempts)
}

func TestRun_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	var calls int32

	out := Run(context.Background(), []int{1}, Options{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(_ context.Context, _ int) (struct{}, error) {
		atomic.AddInt32(&calls, 1)
		return struct{}{}, permanent
	})

	assert.ErrorIs(t, out[0].Err, permanent)
	assert.Equal(t, 1, out[0].Attempts)
	assert.Equal(t, int32(1), calls)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 20)

	Run(context.Background(), items, Options{Workers: 4}, func(_ context.Context, _ int) (int, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return 0, nil
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
}

func TestRun_CancelledContextReportsUnstarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen int32
	out := Run(ctx, []int{1, 2, 3}, Options{
		Workers: 1,
		OnItem:  func(int, error) { atomic.AddInt32(&seen, 1) },
	}, func(_ context.Context, n int) (int, error) {
		return n, nil
	})

	for _, o := range out {
		assert.ErrorIs(t, o.Err, context.Canceled)
		assert.Zero(t, o.Attempts)
	}
	assert.Equal(t, int32(3), seen)
}

func TestRetry_StopsOnCancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, attempts, err := Retry(ctx, Options{MaxAttempts: 10, RetryDelay: time.Hour}, func(context.Context) (int, error) {
		cancel()
		return 0, errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
}
