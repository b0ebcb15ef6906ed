// Package storage defines the persistence contract for collected candles and
// per-symbol status rows, with DuckDB and in-memory implementations.
//
// Candles are unique on (symbol, interval, open_time); inserting a duplicate
// is expected during incremental collection and is skipped silently without
// counting toward the insert total. Status rows are unique on
// (symbol, provider) and replaced in full on every write.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwojcik/candlesync/internal/models"
)

// CandleStore handles candle persistence.
type CandleStore interface {
	// InsertCandles persists candles one at a time and returns how many rows
	// were actually inserted. A duplicate-key collision is skipped and not
	// counted; any other failure aborts the remainder of the batch and is
	// returned to the caller.
	InsertCandles(ctx context.Context, candles []models.Candle) (int, error)

	// LatestOpenTime returns the highest persisted open time (epoch ms) for
	// the symbol and interval. The bool is false when no rows exist.
	LatestOpenTime(ctx context.Context, symbol, interval string) (int64, bool, error)

	// CountCandles returns the total number of candles stored for the symbol.
	CountCandles(ctx context.Context, symbol string) (int64, error)

	// DeleteCandlesBefore removes candles for the symbol with open time
	// strictly below cutoff (epoch ms) and returns the number removed.
	DeleteCandlesBefore(ctx context.Context, symbol string, cutoff int64) (int64, error)
}

// StatusStore handles per-symbol collection status rows.
type StatusStore interface {
	// UpsertStatus replaces the status row keyed by (symbol, provider).
	UpsertStatus(ctx context.Context, status models.Status) error

	// GetStatus returns the status row for (symbol, provider), or nil when
	// none exists.
	GetStatus(ctx context.Context, symbol, provider string) (*models.Status, error)
}

// StoreManager handles storage lifecycle concerns.
type StoreManager interface {
	// Initialize prepares the schema. Idempotent.
	Initialize(ctx context.Context) error

	// Close releases the backing resources.
	Close() error

	// HealthCheck verifies the backend is operational with a lightweight
	// round trip.
	HealthCheck(ctx context.Context) error
}

// FullStore combines every storage capability the collector depends on.
type FullStore interface {
	CandleStore
	StatusStore
	StoreManager
}

// StorageError represents a failure during a storage operation.
type StorageError struct {
	Operation string
	Table     string
	Err       error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the provided details.
func NewStorageError(operation, table string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Err: err}
}

// NewInsertError creates a StorageError for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// isDuplicateKeyError reports whether err is a unique/primary-key constraint
// violation. DuckDB phrases these as constraint errors mentioning the
// duplicated key.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "primary key or unique constraint") ||
		strings.Contains(msg, "unique constraint")
}
