// Package collector implements the incremental collection cycle: connectivity
// gating, watermark resolution, bounded fetching, idempotent persistence, and
// per-symbol status bookkeeping.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mwojcik/candlesync/internal/exchange"
	"github.com/mwojcik/candlesync/internal/models"
	"github.com/mwojcik/candlesync/internal/storage"
)

// Fetcher is the request-execution capability the collector depends on.
type Fetcher interface {
	FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error)
	Provider() string
	MaxPageSize() int
}

// Gate verifies connectivity before a cycle touches the network.
type Gate interface {
	WaitForConnectivity(ctx context.Context, maxRetries int, delay time.Duration) error
	CheckAPI(ctx context.Context, baseURL string) bool
}

// Config holds the collector's operating parameters.
type Config struct {
	Symbols []string
	// Interval is the candle interval to collect.
	Interval string
	// CollectionInterval doubles as the freshness threshold: a symbol whose
	// last successful update is more recent than this is skipped.
	CollectionInterval time.Duration
	// Lookback bounds the initial backfill when a symbol has no data yet.
	Lookback time.Duration
	// BaseURL is probed by the gate before each cycle.
	BaseURL string

	MaxConnectionRetries int
	ConnectionRetryDelay time.Duration

	Logger *slog.Logger
	// Now is the clock, swappable in tests. Defaults to time.Now.
	Now func() time.Time
}

// SymbolResult is the outcome of collecting one symbol in a cycle.
type SymbolResult struct {
	Symbol       string
	Success      bool
	Skipped      bool
	RecordsAdded int
	WindowStart  int64
	WindowEnd    int64
	Err          error
}

// CycleResult is the outcome of one full collection cycle.
type CycleResult struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Results   []SymbolResult
}

// Succeeded returns how many symbols completed without error.
func (r *CycleResult) Succeeded() int {
	n := 0
	for _, sr := range r.Results {
		if sr.Success {
			n++
		}
	}
	return n
}

// SymbolStats summarizes the stored state of one symbol.
type SymbolStats struct {
	Symbol string
	Count  int64
	Status *models.Status
}

// Collector runs collection cycles over a fixed symbol set, one symbol at a
// time.
type Collector struct {
	fetcher Fetcher
	store   storage.FullStore
	gate    Gate
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Collector. Fetcher, store, and gate are required.
func New(fetcher Fetcher, store storage.FullStore, gate Gate, cfg Config) (*Collector, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if _, err := models.IntervalDuration(cfg.Interval); err != nil {
		return nil, err
	}
	if cfg.CollectionInterval <= 0 {
		return nil, fmt.Errorf("collection interval must be positive")
	}
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive")
	}
	if cfg.MaxConnectionRetries < 1 {
		cfg.MaxConnectionRetries = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Collector{
		fetcher: fetcher,
		store:   store,
		gate:    gate,
		cfg:     cfg,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// RunCycle executes one collection cycle: gate on connectivity, then collect
// every configured symbol sequentially. A symbol failure is recorded in its
// result and does not stop the remaining symbols; a gate failure aborts the
// whole cycle before any symbol is touched.
func (c *Collector) RunCycle(ctx context.Context) (*CycleResult, error) {
	cycleID := uuid.NewString()
	started := c.now()
	logger := c.logger.With("cycle_id", cycleID)

	logger.Info("collection cycle started",
		"provider", c.fetcher.Provider(),
		"symbols", len(c.cfg.Symbols),
		"interval", c.cfg.Interval)

	if err := c.gate.WaitForConnectivity(ctx, c.cfg.MaxConnectionRetries, c.cfg.ConnectionRetryDelay); err != nil {
		logger.Error("connectivity gate failed, skipping cycle", "error", err)
		return nil, fmt.Errorf("connectivity gate: %w", err)
	}
	if c.cfg.BaseURL != "" && !c.gate.CheckAPI(ctx, c.cfg.BaseURL) {
		logger.Error("api unreachable, skipping cycle", "base_url", c.cfg.BaseURL)
		return nil, fmt.Errorf("connectivity gate: api %s unreachable", c.cfg.BaseURL)
	}

	result := &CycleResult{
		CycleID:   cycleID,
		StartedAt: started,
		Results:   make([]SymbolResult, 0, len(c.cfg.Symbols)),
	}

	for _, symbol := range c.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		sr := c.collectSymbol(ctx, logger, symbol)
		result.Results = append(result.Results, sr)
	}

	result.Duration = c.now().Sub(started)
	logger.Info("collection cycle finished",
		"succeeded", result.Succeeded(),
		"total", len(result.Results),
		"duration", result.Duration)

	return result, nil
}

// collectSymbol runs the full per-symbol pipeline and always leaves a status
// row behind, success or failure.
func (c *Collector) collectSymbol(ctx context.Context, logger *slog.Logger, symbol string) SymbolResult {
	logger = logger.With("symbol", symbol)
	result := SymbolResult{Symbol: symbol}
	now := c.now()

	status, err := c.store.GetStatus(ctx, symbol, c.fetcher.Provider())
	if err != nil {
		logger.Error("status lookup failed", "error", err)
		result.Err = err
		c.writeErrorStatus(ctx, logger, symbol, err)
		return result
	}

	if status.IsFresh(now, c.cfg.CollectionInterval) {
		logger.Debug("data is fresh, skipping",
			"last_update", status.LastUpdate,
			"threshold", c.cfg.CollectionInterval)
		result.Success = true
		result.Skipped = true
		return result
	}

	start, end, err := c.resolveWindow(ctx, symbol, now)
	if err != nil {
		logger.Error("watermark resolution failed", "error", err)
		result.Err = err
		c.writeErrorStatus(ctx, logger, symbol, err)
		return result
	}
	result.WindowStart = start
	result.WindowEnd = end

	if start >= end {
		logger.Debug("no new window to collect", "start", start, "end", end)
		result.Success = true
		result.Skipped = true
		return result
	}

	candles, err := c.fetcher.FetchCandles(ctx, exchange.FetchRequest{
		Symbol:   symbol,
		Interval: c.cfg.Interval,
		Start:    start,
		End:      end,
		Limit:    c.fetcher.MaxPageSize(),
	})
	if err != nil {
		logger.Error("fetch failed", "error", err, "start", start, "end", end)
		result.Err = err
		c.writeErrorStatus(ctx, logger, symbol, err)
		return result
	}

	inserted, err := c.store.InsertCandles(ctx, candles)
	if err != nil {
		logger.Error("persist failed", "error", err, "fetched", len(candles))
		result.Err = err
		c.writeErrorStatus(ctx, logger, symbol, err)
		return result
	}
	result.RecordsAdded = inserted

	watermark := int64(0)
	for _, candle := range candles {
		if candle.OpenTime > watermark {
			watermark = candle.OpenTime
		}
	}
	if watermark == 0 {
		if latest, ok, lerr := c.store.LatestOpenTime(ctx, symbol, c.cfg.Interval); lerr == nil && ok {
			watermark = latest
		}
	}

	// The stored count is authoritative; inserted only reflects this batch.
	total, err := c.store.CountCandles(ctx, symbol)
	if err != nil {
		logger.Error("recount failed", "error", err)
		result.Err = err
		c.writeErrorStatus(ctx, logger, symbol, err)
		return result
	}

	err = c.store.UpsertStatus(ctx, models.Status{
		Symbol:        symbol,
		Provider:      c.fetcher.Provider(),
		LastUpdate:    c.now().UTC(),
		LastTimestamp: watermark,
		TotalRecords:  total,
		StatusCode:    models.StatusSuccess,
	})
	if err != nil {
		logger.Error("status write failed", "error", err)
		result.Err = err
		return result
	}

	result.Success = true
	logger.Info("symbol collected",
		"fetched", len(candles),
		"inserted", inserted,
		"watermark", watermark,
		"total_records", total)
	return result
}

// resolveWindow computes the half-open fetch window [start, end) in epoch ms.
// With a stored watermark the window starts one interval after it; otherwise
// it starts at the configured lookback horizon.
func (c *Collector) resolveWindow(ctx context.Context, symbol string, now time.Time) (int64, int64, error) {
	intervalDur, err := models.IntervalDuration(c.cfg.Interval)
	if err != nil {
		return 0, 0, err
	}

	end := now.UnixMilli()

	latest, ok, err := c.store.LatestOpenTime(ctx, symbol, c.cfg.Interval)
	if err != nil {
		return 0, 0, err
	}
	if ok {
		return latest + intervalDur.Milliseconds(), end, nil
	}
	return now.Add(-c.cfg.Lookback).UnixMilli(), end, nil
}

// writeErrorStatus records a failed collection attempt. The row resets the
// watermark and record count to zero; the candle table remains the source of
// truth and the next successful cycle restores both.
func (c *Collector) writeErrorStatus(ctx context.Context, logger *slog.Logger, symbol string, cause error) {
	err := c.store.UpsertStatus(ctx, models.Status{
		Symbol:       symbol,
		Provider:     c.fetcher.Provider(),
		LastUpdate:   c.now().UTC(),
		StatusCode:   models.StatusError,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		logger.Error("error status write failed", "error", err)
	}
}

// Stats returns the stored count and status row for every configured symbol.
func (c *Collector) Stats(ctx context.Context) ([]SymbolStats, error) {
	stats := make([]SymbolStats, 0, len(c.cfg.Symbols))
	for _, symbol := range c.cfg.Symbols {
		count, err := c.store.CountCandles(ctx, symbol)
		if err != nil {
			return nil, err
		}
		status, err := c.store.GetStatus(ctx, symbol, c.fetcher.Provider())
		if err != nil {
			return nil, err
		}
		stats = append(stats, SymbolStats{Symbol: symbol, Count: count, Status: status})
	}
	return stats, nil
}

// PruneOlderThan deletes candles older than the retention horizon for every
// configured symbol and returns the total removed.
func (c *Collector) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}

	cutoff := c.now().Add(-retention).UnixMilli()
	var total int64
	for _, symbol := range c.cfg.Symbols {
		removed, err := c.store.DeleteCandlesBefore(ctx, symbol, cutoff)
		if err != nil {
			return total, err
		}
		if removed > 0 {
			c.logger.Info("pruned old candles", "symbol", symbol, "removed", removed)
		}
		total += removed
	}
	return total, nil
}
