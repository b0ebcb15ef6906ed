// Package models provides the data structures and validation for candle
// collection: OHLCV candles keyed by (symbol, interval, open time) and the
// per-symbol collection status rows written after every cycle attempt.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents OHLCV price and volume data for a symbol over one
// interval. Prices and volume are decimal strings to preserve exchange
// precision; OpenTime and CloseTime are epoch milliseconds.
//
// A candle is uniquely identified by (Symbol, Interval, OpenTime) and is
// immutable once persisted.
type Candle struct {
	Symbol    string `json:"symbol" db:"symbol"`
	Interval  string `json:"interval" db:"interval"`
	Open      string `json:"open" db:"open"`
	High      string `json:"high" db:"high"`
	Low       string `json:"low" db:"low"`
	Close     string `json:"close" db:"close"`
	Volume    string `json:"volume" db:"volume"`
	OpenTime  int64  `json:"open_time" db:"open_time"`
	CloseTime int64  `json:"close_time" db:"close_time"`
}

// ValidationError represents a candle validation error with field context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs validation on the candle data: all price fields must be
// valid decimals greater than zero, volume non-negative, OHLC relationships
// correct (high >= max(open, close), low <= min(open, close)), and the
// identifying fields non-empty.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Interval == "" {
		return &ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}
	if c.OpenTime <= 0 {
		return &ValidationError{Field: "open_time", Message: "open time must be a positive epoch timestamp"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	close, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(open, close)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}
	minOpenClose := decimal.Min(open, close)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	return nil
}

// OpenDecimal returns the open price as a decimal.Decimal.
func (c *Candle) OpenDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Open)
}

// HighDecimal returns the high price as a decimal.Decimal.
func (c *Candle) HighDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.High)
}

// LowDecimal returns the low price as a decimal.Decimal.
func (c *Candle) LowDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Low)
}

// CloseDecimal returns the close price as a decimal.Decimal.
func (c *Candle) CloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// VolumeDecimal returns the volume as a decimal.Decimal.
func (c *Candle) VolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Volume)
}

// OpenedAt returns the candle open time as a time.Time in UTC.
func (c *Candle) OpenedAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// String implements fmt.Stringer.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Symbol: %s, Interval: %s, OpenTime: %d, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Symbol, c.Interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle creates a validated Candle. Price and volume values are decimal
// strings; openTime and closeTime are epoch milliseconds.
func NewCandle(symbol, interval, open, high, low, close, volume string, openTime, closeTime int64) (*Candle, error) {
	candle := &Candle{
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		OpenTime:  openTime,
		CloseTime: closeTime,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}

// IntervalDuration converts a candle interval string to a time.Duration.
// Returns an error for intervals the collector does not understand.
func IntervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "2h":
		return 2 * time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "6h":
		return 6 * time.Hour, nil
	case "12h":
		return 12 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported interval: %s", interval)
	}
}
