package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwojcik/candlesync/internal/exchange"
	"github.com/mwojcik/candlesync/internal/models"
)

// scriptedAdapter returns one canned response per call, in order. The last
// entry repeats once the script runs out.
type scriptedAdapter struct {
	candles  []models.Candle
	script   []error
	calls    int
	callGaps []time.Time
}

func (a *scriptedAdapter) FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error) {
	return a.candles, a.next()
}

func (a *scriptedAdapter) FetchSymbols(ctx context.Context) ([]string, error) {
	return []string{"BTCUSDT"}, a.next()
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context) error { return a.next() }
func (a *scriptedAdapter) Name() string                          { return "scripted" }
func (a *scriptedAdapter) BaseURL() string                       { return "http://scripted.invalid" }
func (a *scriptedAdapter) MaxPageSize() int                      { return 1000 }

func (a *scriptedAdapter) next() error {
	a.callGaps = append(a.callGaps, time.Now())
	idx := a.calls
	a.calls++
	if idx >= len(a.script) {
		idx = len(a.script) - 1
	}
	if idx < 0 {
		return nil
	}
	return a.script[idx]
}

func transportErr() error {
	return &exchange.TransportError{Provider: "scripted", Op: "test", Err: errors.New("connection reset")}
}

func providerErr() error {
	return &exchange.ProviderError{Provider: "scripted", Code: "10001", Message: "bad symbol"}
}

func newTestExecutor(adapter exchange.Adapter, cfg Config) *Executor {
	e := New(adapter, cfg)
	e.backoffBase = time.Millisecond
	return e
}

func TestFetchCandlesSuccess(t *testing.T) {
	adapter := &scriptedAdapter{
		candles: []models.Candle{{Symbol: "BTCUSDT", Interval: "1h", OpenTime: 1}},
	}
	exec := newTestExecutor(adapter, Config{MaxRetries: 3})

	candles, err := exec.FetchCandles(context.Background(), exchange.FetchRequest{
		Symbol: "BTCUSDT", Interval: "1h",
	})
	require.NoError(t, err)
	assert.Len(t, candles, 1)
	assert.Equal(t, 1, adapter.calls)
}

func TestTransportErrorIsRetried(t *testing.T) {
	adapter := &scriptedAdapter{
		script: []error{transportErr(), transportErr(), nil},
	}
	exec := newTestExecutor(adapter, Config{MaxRetries: 3})

	_, err := exec.FetchCandles(context.Background(), exchange.FetchRequest{
		Symbol: "BTCUSDT", Interval: "1h",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, adapter.calls)
}

func TestTransportErrorExhaustsRetries(t *testing.T) {
	adapter := &scriptedAdapter{
		script: []error{transportErr()},
	}
	exec := newTestExecutor(adapter, Config{MaxRetries: 3})

	_, err := exec.FetchCandles(context.Background(), exchange.FetchRequest{
		Symbol: "BTCUSDT", Interval: "1h",
	})
	require.Error(t, err)
	assert.True(t, exchange.IsTransport(err))
	assert.Equal(t, 3, adapter.calls)
}

func TestProviderRejectionIsNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{
		script: []error{providerErr()},
	}
	exec := newTestExecutor(adapter, Config{MaxRetries: 5})

	_, err := exec.FetchCandles(context.Background(), exchange.FetchRequest{
		Symbol: "BTCUSDT", Interval: "1h",
	})
	require.Error(t, err)
	assert.True(t, exchange.IsProviderRejection(err))
	assert.Equal(t, 1, adapter.calls)
}

func TestRateLimitSpacesAttempts(t *testing.T) {
	adapter := &scriptedAdapter{}
	spacing := 50 * time.Millisecond
	exec := newTestExecutor(adapter, Config{RateLimit: spacing, MaxRetries: 1})

	ctx := context.Background()
	req := exchange.FetchRequest{Symbol: "BTCUSDT", Interval: "1h"}

	_, err := exec.FetchCandles(ctx, req)
	require.NoError(t, err)
	_, err = exec.FetchCandles(ctx, req)
	require.NoError(t, err)

	require.Len(t, adapter.callGaps, 2)
	gap := adapter.callGaps[1].Sub(adapter.callGaps[0])
	assert.GreaterOrEqual(t, gap, spacing-5*time.Millisecond,
		"second request should wait out the rate limit")
}

func TestContextCancellationStopsRetries(t *testing.T) {
	adapter := &scriptedAdapter{
		script: []error{transportErr()},
	}
	exec := New(adapter, Config{MaxRetries: 10})
	// Real 1s backoff here; cancellation must cut it short.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := exec.FetchCandles(ctx, exchange.FetchRequest{Symbol: "BTCUSDT", Interval: "1h"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFetchSymbolsPassthrough(t *testing.T) {
	adapter := &scriptedAdapter{}
	exec := newTestExecutor(adapter, Config{MaxRetries: 1})

	symbols, err := exec.FetchSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, symbols)
	assert.Equal(t, "scripted", exec.Provider())
	assert.Equal(t, 1000, exec.MaxPageSize())
}
