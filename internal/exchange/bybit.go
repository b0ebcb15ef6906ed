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
	bybitDefaultBaseURL = "https://api.bybit.com"

	bybitKlineEndpoint       = "/v5/market/kline"
	bybitInstrumentsEndpoint = "/v5/market/instruments-info"
	bybitTimeEndpoint        = "/v5/market/time"

	// Bybit caps kline pages at 1000 rows.
	bybitMaxPageSize = 1000
)

// BybitAdapter implements Adapter for the Bybit v5 spot market API.
type BybitAdapter struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewBybitAdapter creates a Bybit adapter. baseURL falls back to the public
// API host when empty; timeout bounds each HTTP request.
func NewBybitAdapter(baseURL string, timeout time.Duration, logger *slog.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = bybitDefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BybitAdapter{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Name implements Adapter.
func (b *BybitAdapter) Name() string { return "bybit" }

// BaseURL implements Adapter.
func (b *BybitAdapter) BaseURL() string { return b.baseURL }

// MaxPageSize implements Adapter.
func (b *BybitAdapter) MaxPageSize() int { return bybitMaxPageSize }

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type bybitKlineResult struct {
	Category string     `json:"category"`
	Symbol   string     `json:"symbol"`
	List     [][]string `json:"list"`
}

type bybitInstrumentsResult struct {
	Category string `json:"category"`
	List     []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"list"`
}

// FetchCandles implements CandleFetcher.
//
// Bybit returns kline rows newest-first as string arrays
// [start, open, high, low, close, volume, turnover]; rows are normalized and
// re-sorted ascending by open time. The provider omits a close time, so it is
// derived from the interval duration.
func (b *BybitAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	interval, err := bybitInterval(req.Interval)
	if err != nil {
		return nil, err
	}
	intervalDur, err := models.IntervalDuration(req.Interval)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 || limit > bybitMaxPageSize {
		limit = bybitMaxPageSize
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", req.Symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if req.Start != 0 {
		params.Set("start", strconv.FormatInt(req.Start, 10))
	}
	if req.End != 0 {
		params.Set("end", strconv.FormatInt(req.End, 10))
	}

	var result bybitKlineResult
	if err := b.get(ctx, bybitKlineEndpoint, params, &result); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 6 {
			return nil, &ProviderError{
				Provider: b.Name(),
				Message:  fmt.Sprintf("kline row has %d fields, want at least 6", len(row)),
			}
		}
		openTime, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, &ProviderError{
				Provider: b.Name(),
				Message:  fmt.Sprintf("invalid kline start time %q: %v", row[0], err),
			}
		}
		candle, err := models.NewCandle(
			req.Symbol, req.Interval,
			row[1], row[2], row[3], row[4], row[5],
			openTime, openTime+intervalDur.Milliseconds(),
		)
		if err != nil {
			return nil, &ProviderError{
				Provider: b.Name(),
				Message:  fmt.Sprintf("invalid kline row at %d: %v", openTime, err),
			}
		}
		candles = append(candles, *candle)
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })

	b.logger.Debug("fetched bybit klines", "symbol", req.Symbol, "count", len(candles))
	return candles, nil
}

// FetchSymbols implements SymbolProvider, returning spot symbols in Trading
// status.
func (b *BybitAdapter) FetchSymbols(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("category", "spot")

	var result bybitInstrumentsResult
	if err := b.get(ctx, bybitInstrumentsEndpoint, params, &result); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(result.List))
	for _, instrument := range result.List {
		if instrument.Status == "Trading" {
			symbols = append(symbols, instrument.Symbol)
		}
	}
	return symbols, nil
}

// HealthCheck implements HealthChecker using the server-time endpoint.
func (b *BybitAdapter) HealthCheck(ctx context.Context) error {
	var result json.RawMessage
	return b.get(ctx, bybitTimeEndpoint, nil, &result)
}

// get issues one GET request, classifies the failure mode, and decodes the
// Bybit envelope into result.
func (b *BybitAdapter) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	requestURL := b.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &TransportError{Provider: b.Name(), Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Provider: b.Name(), Op: endpoint, Err: err}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransportError{
			Provider: b.Name(),
			Op:       endpoint,
			Err:      fmt.Errorf("server error %d: %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode >= 400 {
		return &ProviderError{
			Provider: b.Name(),
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  string(body),
		}
	}

	var envelope bybitEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if envelope.RetCode != 0 {
		return &ProviderError{
			Provider: b.Name(),
			Code:     strconv.Itoa(envelope.RetCode),
			Message:  envelope.RetMsg,
		}
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return &ProviderError{Provider: b.Name(), Message: fmt.Sprintf("malformed result payload: %v", err)}
	}
	return nil
}

// bybitInterval converts collector interval notation to the Bybit kline
// interval parameter (minutes, or D for daily).
func bybitInterval(interval string) (string, error) {
	switch interval {
	case "1m":
		return "1", nil
	case "3m":
		return "3", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "2h":
		return "120", nil
	case "4h":
		return "240", nil
	case "6h":
		return "360", nil
	case "12h":
		return "720", nil
	case "1d":
		return "D", nil
	default:
		return "", fmt.Errorf("unsupported interval: %s", interval)
	}
}
