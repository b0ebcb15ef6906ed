package collector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwojcik/candlesync/internal/exchange"
	"github.com/mwojcik/candlesync/internal/models"
	"github.com/mwojcik/candlesync/internal/storage"
)

// countingFetcher counts cycles and can be told to panic.
type countingFetcher struct {
	calls     atomic.Int64
	panicking atomic.Bool
}

func (f *countingFetcher) FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error) {
	f.calls.Add(1)
	if f.panicking.Load() {
		panic("fetcher blew up")
	}
	return nil, nil
}

func (f *countingFetcher) Provider() string { return "fake" }
func (f *countingFetcher) MaxPageSize() int { return 1000 }

func newSchedulerUnderTest(t *testing.T, fetcher Fetcher, interval, retention time.Duration) *Scheduler {
	t.Helper()
	c, err := New(fetcher, storage.NewMemoryStore(), &fakeGate{}, Config{
		Symbols:  []string{"BTCUSDT"},
		Interval: "1h",
		// Keep the freshness threshold below the scheduler interval so
		// every cycle actually fetches.
		CollectionInterval: time.Nanosecond,
		Lookback:           30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	s := NewScheduler(c, interval, retention, nil)
	s.panicCooldown = time.Millisecond
	return s
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	fetcher := &countingFetcher{}
	s := newSchedulerUnderTest(t, fetcher, 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let a few cycles happen, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}

	assert.GreaterOrEqual(t, fetcher.calls.Load(), int64(2))
}

func TestSchedulerSurvivesCyclePanic(t *testing.T) {
	fetcher := &countingFetcher{}
	fetcher.panicking.Store(true)
	s := newSchedulerUnderTest(t, fetcher, time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for at least two panicking cycles, proving the loop recovered.
	deadline := time.After(time.Second)
	for fetcher.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not keep running after a panic")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestSleepCtxHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}
