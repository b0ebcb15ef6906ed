// Package exchange defines the provider-facing capability interfaces for
// candle collection and the concrete adapters that normalize each provider's
// wire format into the canonical models.Candle shape.
//
// The interfaces are small and composable; an Adapter is the union the rest
// of the system works against. Adapters are side-effect-free transformations
// over a transport response and surface two distinct failure classes:
// TransportError for network-level failures and ProviderError for explicit
// rejections inside an otherwise well-formed response.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwojcik/candlesync/internal/models"
)

// FetchRequest specifies parameters for fetching candles from a provider.
// Start and End are epoch milliseconds; a zero value means unset and leaves
// the bound to the provider's default. Limit caps the page size and is
// clamped to the provider maximum.
type FetchRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Start    int64  `json:"start,omitempty"`
	End      int64  `json:"end,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Validate checks the request parameters.
func (r *FetchRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if r.Interval == "" {
		return errors.New("interval cannot be empty")
	}
	if r.Start != 0 && r.End != 0 && r.Start >= r.End {
		return errors.New("start must be before end")
	}
	if r.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	return nil
}

// CandleFetcher retrieves normalized candle data from a provider.
//
// Implementations must return candles in ascending open-time order with the
// page size bounded by the provider maximum. An empty slice without error
// means no data exists for the requested range.
type CandleFetcher interface {
	FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error)
}

// SymbolProvider lists the symbols currently tradable on the provider.
type SymbolProvider interface {
	FetchSymbols(ctx context.Context) ([]string, error)
}

// HealthChecker performs a lightweight reachability check against the
// provider. It should not consume meaningful rate-limit quota.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Adapter combines the provider capabilities with identifying metadata.
type Adapter interface {
	CandleFetcher
	SymbolProvider
	HealthChecker

	// Name returns the provider identifier (e.g. "bybit").
	Name() string

	// BaseURL returns the provider API base URL used by connectivity checks.
	BaseURL() string

	// MaxPageSize returns the provider's hard cap on candles per request.
	MaxPageSize() int
}

// TransportError wraps a network-level failure reaching the provider:
// DNS, TCP, TLS, timeouts, HTTP 5xx, and rate-limit (429) responses.
// These failures are retryable.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure during %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError is an explicit rejection from the provider: a non-zero
// error code in a well-formed response body or an HTTP 4xx status. These
// failures are not retryable.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: provider rejected request (code %s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: provider rejected request: %s", e.Provider, e.Message)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProviderRejection reports whether err is (or wraps) a ProviderError.
func IsProviderRejection(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
