package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBybitFetchCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		assert.Equal(t, "1735689600000", r.URL.Query().Get("start"))
		assert.Equal(t, "1735696800000", r.URL.Query().Get("end"))

		// Bybit returns rows newest-first.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"retCode": 0,
			"retMsg": "OK",
			"result": {
				"category": "spot",
				"symbol": "BTCUSDT",
				"list": [
					["1735693200000", "50500", "51000", "50400", "50900", "12.5", "631250"],
					["1735689600000", "50000", "50600", "49900", "50500", "10.0", "502500"]
				]
			}
		}`))
	}))
	defer server.Close()

	adapter := NewBybitAdapter(server.URL, 5*time.Second, nil)
	candles, err := adapter.FetchCandles(context.Background(), FetchRequest{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Start:    1735689600000,
		End:      1735696800000,
		Limit:    1000,
	})
	require.NoError(t, err)
	require.Len(t, candles, 2)

	// Normalized ascending by open time.
	assert.Equal(t, int64(1735689600000), candles[0].OpenTime)
	assert.Equal(t, int64(1735693200000), candles[1].OpenTime)
	assert.Equal(t, "50000", candles[0].Open)
	assert.Equal(t, "50900", candles[1].Close)

	// Close time is derived from the interval.
	assert.Equal(t, int64(1735693200000), candles[0].CloseTime)
	assert.Equal(t, "BTCUSDT", candles[0].Symbol)
	assert.Equal(t, "1h", candles[0].Interval)
}

func TestBybitFetchCandlesRetCodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"retCode": 10001, "retMsg": "params error: symbol invalid", "result": {}}`))
	}))
	defer server.Close()

	adapter := NewBybitAdapter(server.URL, 5*time.Second, nil)
	_, err := adapter.FetchCandles(context.Background(), FetchRequest{
		Symbol:   "NOTREAL",
		Interval: "1h",
		Start:    1,
		End:      2,
	})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "10001", provErr.Code)
	assert.Contains(t, provErr.Message, "symbol invalid")
	assert.False(t, IsTransport(err))
}

func TestBybitFetchCandlesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := NewBybitAdapter(server.URL, 5*time.Second, nil)
	_, err := adapter.FetchCandles(context.Background(), FetchRequest{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Start:    1,
		End:      2,
	})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestBybitFetchCandlesRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewBybitAdapter(server.URL, 5*time.Second, nil)
	_, err := adapter.FetchCandles(context.Background(), FetchRequest{
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Start:    1,
		End:      2,
	})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestBybitFetchCandlesUnsupportedInterval(t *testing.T) {
	adapter := NewBybitAdapter("http://unused.invalid", 5*time.Second, nil)
	_, err := adapter.FetchCandles(context.Background(), FetchRequest{
		Symbol:   "BTCUSDT",
		Interval: "7m",
		Start:    1,
		End:      2,
	})
	assert.Error(t, err)
}

func TestBybitFetchSymbols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/instruments-info", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"retCode": 0,
			"retMsg": "OK",
			"result": {
				"category": "spot",
				"list": [
					{"symbol": "BTCUSDT", "status": "Trading"},
					{"symbol": "DELISTED1", "status": "Closed"},
					{"symbol": "ETHUSDT", "status": "Trading"}
				]
			}
		}`))
	}))
	defer server.Close()

	adapter := NewBybitAdapter(server.URL, 5*time.Second, nil)
	symbols, err := adapter.FetchSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, symbols)
}

func TestBybitHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/time", r.URL.Path)
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"timeSecond": "1735689600"}}`))
	}))
	defer server.Close()

	adapter := NewBybitAdapter(server.URL, 5*time.Second, nil)
	assert.NoError(t, adapter.HealthCheck(context.Background()))
}

func TestBybitIntervalMapping(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1m", want: "1"},
		{in: "30m", want: "30"},
		{in: "1h", want: "60"},
		{in: "4h", want: "240"},
		{in: "1d", want: "D"},
		{in: "1w", wantErr: true},
	}
	for _, tt := range tests {
		got, err := bybitInterval(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
