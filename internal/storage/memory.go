package storage

import (
	"context"
	"sync"

	"github.com/mwojcik/candlesync/internal/models"
)

// candleKey identifies a unique candle row.
type candleKey struct {
	symbol   string
	interval string
	openTime int64
}

// statusKey identifies a unique status row.
type statusKey struct {
	symbol   string
	provider string
}

// MemoryStore implements FullStore entirely in memory. It mirrors the
// duplicate-skip and upsert semantics of DuckDBStore and is used by tests and
// as a throwaway backend.
type MemoryStore struct {
	mu      sync.RWMutex
	candles map[candleKey]models.Candle
	status  map[statusKey]models.Status
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[candleKey]models.Candle),
		status:  make(map[statusKey]models.Status),
	}
}

// Initialize is a no-op for the in-memory backend.
func (s *MemoryStore) Initialize(ctx context.Context) error {
	return nil
}

// InsertCandles stores candles, skipping rows whose key already exists.
func (s *MemoryStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, c := range candles {
		if err := ctx.Err(); err != nil {
			return inserted, NewInsertError("candles", err)
		}
		key := candleKey{symbol: c.Symbol, interval: c.Interval, openTime: c.OpenTime}
		if _, exists := s.candles[key]; exists {
			continue
		}
		s.candles[key] = c
		inserted++
	}
	return inserted, nil
}

// LatestOpenTime returns the newest stored open time for symbol/interval.
func (s *MemoryStore) LatestOpenTime(ctx context.Context, symbol, interval string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest int64
		found  bool
	)
	for key := range s.candles {
		if key.symbol != symbol || key.interval != interval {
			continue
		}
		if !found || key.openTime > latest {
			latest = key.openTime
			found = true
		}
	}
	return latest, found, nil
}

// CountCandles returns the number of candles stored for the symbol.
func (s *MemoryStore) CountCandles(ctx context.Context, symbol string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for key := range s.candles {
		if key.symbol == symbol {
			count++
		}
	}
	return count, nil
}

// DeleteCandlesBefore removes candles older than cutoff for the symbol.
func (s *MemoryStore) DeleteCandlesBefore(ctx context.Context, symbol string, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.candles {
		if key.symbol == symbol && key.openTime < cutoff {
			delete(s.candles, key)
			removed++
		}
	}
	return removed, nil
}

// UpsertStatus replaces the status row for (symbol, provider).
func (s *MemoryStore) UpsertStatus(ctx context.Context, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status[statusKey{symbol: status.Symbol, provider: status.Provider}] = status
	return nil
}

// GetStatus returns a copy of the status row, or nil when absent.
func (s *MemoryStore) GetStatus(ctx context.Context, symbol, provider string) (*models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.status[statusKey{symbol: symbol, provider: provider}]
	if !ok {
		return nil, nil
	}
	out := st
	return &out, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
