package dedupe

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

func TestRun_ConcurrentIdenticalKeysCallOnce(t *testing.T) {
	d := New()
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "accounts", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := d.Run(context.Background(), "user:1:accounts:fp", fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return d.InFlight() == 1 }, time.Second, time.Millisecond)
	// give the second caller time to join the in-flight call
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []any{"accounts", "accounts"}, results)
}

func TestRun_DistinctKeysAreNotShared(t *testing.T) {
	d := New()
	var calls atomic.Int32

	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	_, _, _ = d.Run(context.Background(), "user:1:transactions:fp:acc_1:from=2025-01-01", fn)
	_, _, _ = d.Run(context.Background(), "user:1:transactions:fp:acc_1:from=2025-01-02", fn)

	assert.Equal(t, int32(2), calls.Load())
}

func TestRun_FailureDoesNotPoisonKey(t *testing.T) {
	d := New()
	boom := errors.New("upstream down")

	_, _, err := d.Run(context.Background(), "k", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	v, shared, err := d.Run(context.Background(), "k", func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, 42, v)
	assert.Equal(t, 0, d.InFlight())
}

func TestRun_CallerCancellationStopsWaitingOnly(t *testing.T) {
	d := New()
	release := make(chan struct{})
	var sawCancel atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := d.Run(ctx, "k", func(fnCtx context.Context) (any, error) {
			<-release
			sawCancel.Store(fnCtx.Err() != nil)
			return "done", nil
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return d.InFlight() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return d.InFlight() == 0 }, time.Second, time.Millisecond)
	assert.False(t, sawCancel.Load(), "the shared call must not observe one caller's cancellation")
}
