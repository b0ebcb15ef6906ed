package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/mwojcik/candlesync/internal/models"
)

// DuckDBStore implements FullStore on an embedded DuckDB database.
type DuckDBStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewDuckDBStore opens (or creates) a DuckDB database at path. Use ":memory:"
// for an ephemeral database.
func NewDuckDBStore(path string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, NewStorageError("open", "", err)
	}

	// DuckDB is embedded and single-writer; one connection avoids
	// concurrent-write contention entirely.
	db.SetMaxOpenConns(1)

	return &DuckDBStore{
		db:     db,
		path:   path,
		logger: logger,
	}, nil
}

// Initialize creates the candle and status tables if they do not exist.
func (s *DuckDBStore) Initialize(ctx context.Context) error {
	const candlesSchema = `
		CREATE TABLE IF NOT EXISTS candles (
			symbol     VARCHAR NOT NULL,
			"interval" VARCHAR NOT NULL,
			open_time  BIGINT  NOT NULL,
			close_time BIGINT  NOT NULL,
			open       DECIMAL(20,8) NOT NULL,
			high       DECIMAL(20,8) NOT NULL,
			low        DECIMAL(20,8) NOT NULL,
			close      DECIMAL(20,8) NOT NULL,
			volume     DECIMAL(30,8) NOT NULL,
			PRIMARY KEY (symbol, "interval", open_time)
		)`

	const statusSchema = `
		CREATE TABLE IF NOT EXISTS collection_status (
			symbol         VARCHAR NOT NULL,
			provider       VARCHAR NOT NULL,
			last_update    TIMESTAMP NOT NULL,
			last_timestamp BIGINT NOT NULL,
			total_records  BIGINT NOT NULL,
			status_code    VARCHAR NOT NULL,
			error_message  VARCHAR,
			PRIMARY KEY (symbol, provider)
		)`

	if _, err := s.db.ExecContext(ctx, candlesSchema); err != nil {
		return NewStorageError("create", "candles", err)
	}
	if _, err := s.db.ExecContext(ctx, statusSchema); err != nil {
		return NewStorageError("create", "collection_status", err)
	}

	s.logger.Debug("duckdb schema ready", "path", s.path)
	return nil
}

// InsertCandles persists candles one row at a time, skipping duplicates.
func (s *DuckDBStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO candles
			(symbol, "interval", open_time, close_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, NewInsertError("candles", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range candles {
		c := &candles[i]
		_, err := stmt.ExecContext(ctx,
			c.Symbol, c.Interval, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			if isDuplicateKeyError(err) {
				continue
			}
			return inserted, NewInsertError("candles", err)
		}
		inserted++
	}

	return inserted, nil
}

// LatestOpenTime returns the newest persisted open time for symbol/interval.
func (s *DuckDBStore) LatestOpenTime(ctx context.Context, symbol, interval string) (int64, bool, error) {
	const query = `SELECT MAX(open_time) FROM candles WHERE symbol = ? AND "interval" = ?`

	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, symbol, interval).Scan(&latest); err != nil {
		return 0, false, NewQueryError("candles", err)
	}
	if !latest.Valid {
		return 0, false, nil
	}
	return latest.Int64, true, nil
}

// CountCandles returns the number of candles stored for the symbol across all
// intervals.
func (s *DuckDBStore) CountCandles(ctx context.Context, symbol string) (int64, error) {
	const query = `SELECT COUNT(*) FROM candles WHERE symbol = ?`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, symbol).Scan(&count); err != nil {
		return 0, NewQueryError("candles", err)
	}
	return count, nil
}

// DeleteCandlesBefore removes candles older than cutoff for the symbol.
func (s *DuckDBStore) DeleteCandlesBefore(ctx context.Context, symbol string, cutoff int64) (int64, error) {
	const query = `DELETE FROM candles WHERE symbol = ? AND open_time < ?`

	res, err := s.db.ExecContext(ctx, query, symbol, cutoff)
	if err != nil {
		return 0, NewStorageError("delete", "candles", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError("delete", "candles", err)
	}
	return removed, nil
}

// UpsertStatus replaces the status row for (symbol, provider).
func (s *DuckDBStore) UpsertStatus(ctx context.Context, status models.Status) error {
	const query = `
		INSERT OR REPLACE INTO collection_status
			(symbol, provider, last_update, last_timestamp, total_records, status_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var errMsg sql.NullString
	if status.ErrorMessage != "" {
		errMsg = sql.NullString{String: status.ErrorMessage, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		status.Symbol, status.Provider, status.LastUpdate.UTC(),
		status.LastTimestamp, status.TotalRecords, string(status.StatusCode), errMsg)
	if err != nil {
		return NewStorageError("upsert", "collection_status", err)
	}
	return nil
}

// GetStatus returns the status row for (symbol, provider), or nil when absent.
func (s *DuckDBStore) GetStatus(ctx context.Context, symbol, provider string) (*models.Status, error) {
	const query = `
		SELECT symbol, provider, last_update, last_timestamp, total_records, status_code, error_message
		FROM collection_status
		WHERE symbol = ? AND provider = ?`

	var (
		st      models.Status
		code    string
		errMsg  sql.NullString
		updated time.Time
	)
	err := s.db.QueryRowContext(ctx, query, symbol, provider).Scan(
		&st.Symbol, &st.Provider, &updated, &st.LastTimestamp, &st.TotalRecords, &code, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, NewQueryError("collection_status", err)
	}

	st.LastUpdate = updated.UTC()
	st.StatusCode = models.StatusCode(code)
	st.ErrorMessage = errMsg.String
	return &st, nil
}

// HealthCheck verifies the database responds to a trivial query.
func (s *DuckDBStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return NewStorageError("health_check", "", err)
	}
	if one != 1 {
		return NewStorageError("health_check", "", fmt.Errorf("unexpected result %d", one))
	}
	return nil
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
