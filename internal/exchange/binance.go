package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/mwojcik/candlesync/internal/models"
)

const (
	binanceDefaultBaseURL = "https://api.binance.com"

	binanceKlinesEndpoint       = "/api/v3/klines"
	binanceExchangeInfoEndpoint = "/api/v3/exchangeInfo"
	binancePingEndpoint         = "/api/v3/ping"

	// Binance caps kline pages at 1000 rows.
	binanceMaxPageSize = 1000
)

// BinanceAdapter implements Adapter for the Binance spot market API.
type BinanceAdapter struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewBinanceAdapter creates a Binance adapter. baseURL falls back to the
// public API host when empty; timeout bounds each HTTP request.
func NewBinanceAdapter(baseURL string, timeout time.Duration, logger *slog.Logger) *BinanceAdapter {
	if baseURL == "" {
		baseURL = binanceDefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BinanceAdapter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Name implements Adapter.
func (b *BinanceAdapter) Name() string { return "binance" }

// BaseURL implements Adapter.
func (b *BinanceAdapter) BaseURL() string { return b.baseURL }

// MaxPageSize implements Adapter.
func (b *BinanceAdapter) MaxPageSize() int { return binanceMaxPageSize }

// binanceAPIError is the error body Binance attaches to 4xx responses.
type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// FetchCandles implements CandleFetcher.
//
// Binance returns kline rows oldest-first as mixed-type arrays
// [openTime, open, high, low, close, volume, closeTime, ...]; prices arrive
// as strings, times as integers.
func (b *BinanceAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	if _, err := models.IntervalDuration(req.Interval); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > binanceMaxPageSize {
		limit = binanceMaxPageSize
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("interval", req.Interval)
	params.Set("limit", strconv.Itoa(limit))
	if req.Start != 0 {
		params.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End != 0 {
		params.Set("endTime", strconv.FormatInt(req.End, 10))
	}

	body, err := b.get(ctx, binanceKlinesEndpoint, params)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("malformed klines response: %v", err)}
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := b.convertKlineRow(row, req.Symbol, req.Interval)
		if err != nil {
			return nil, err
		}
		candles = append(candles, *candle)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })

	b.logger.Debug("fetched binance klines", "symbol", req.Symbol, "count", len(candles))
	return candles, nil
}

// convertKlineRow normalizes one Binance kline array into a Candle.
func (b *BinanceAdapter) convertKlineRow(row []json.RawMessage, symbol, interval string) (*models.Candle, error) {
	if len(row) < 7 {
		return nil, &ProviderError{
			Provider: b.Name(),
			Message:  fmt.Sprintf("kline row has %d fields, want at least 7", len(row)),
		}
	}

	var openTime, closeTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return nil, &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("invalid kline open time: %v", err)}
	}
	if err := json.Unmarshal(row[6], &closeTime); err != nil {
		return nil, &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("invalid kline close time: %v", err)}
	}

	prices := make([]string, 5)
	for i := 0; i < 5; i++ {
		if err := json.Unmarshal(row[i+1], &prices[i]); err != nil {
			return nil, &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("invalid kline price field %d: %v", i+1, err)}
		}
	}

	candle, err := models.NewCandle(
		symbol, interval,
		prices[0], prices[1], prices[2], prices[3], prices[4],
		openTime, closeTime,
	)
	if err != nil {
		return nil, &ProviderError{
			Provider: b.Name(),
			Message:  fmt.Sprintf("invalid kline row at %d: %v", openTime, err),
		}
	}
	return candle, nil
}

// FetchSymbols implements SymbolProvider, returning symbols in TRADING
// status.
func (b *BinanceAdapter) FetchSymbols(ctx context.Context) ([]string, error) {
	body, err := b.get(ctx, binanceExchangeInfoEndpoint, nil)
	if err != nil {
		return nil, err
	}

	var info binanceExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("malformed exchangeInfo response: %v", err)}
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// HealthCheck implements HealthChecker using the ping endpoint.
func (b *BinanceAdapter) HealthCheck(ctx context.Context) error {
	_, err := b.get(ctx, binancePingEndpoint, nil)
	return err
}

// get issues one GET request and classifies the failure mode.
func (b *BinanceAdapter) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	requestURL := b.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Provider: b.Name(), Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Provider: b.Name(), Op: endpoint, Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &TransportError{
			Provider: b.Name(),
			Op:       endpoint,
			Err:      fmt.Errorf("server error %d: %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode >= 400 {
		var apiErr binanceAPIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, &ProviderError{
				Provider: b.Name(),
				Code:     strconv.Itoa(apiErr.Code),
				Message:  apiErr.Msg,
			}
		}
		return nil, &ProviderError{
			Provider: b.Name(),
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  string(body),
		}
	}

	return body, nil
}
