package models

import "time"

// StatusCode is the lifecycle state recorded for a (symbol, provider) pair.
type StatusCode string

const (
	StatusPending StatusCode = "pending"
	StatusSuccess StatusCode = "success"
	StatusError   StatusCode = "error"
)

// Status is the per-symbol collection state row, uniquely keyed by
// (Symbol, Provider) and replaced in full after every cycle attempt.
//
// LastTimestamp is the watermark: the highest candle open time (epoch ms)
// known to be persisted for the symbol. TotalRecords is an advisory recount
// against the store, not an incremental tally.
type Status struct {
	Symbol        string     `json:"symbol" db:"symbol"`
	Provider      string     `json:"provider" db:"provider"`
	LastUpdate    time.Time  `json:"last_update" db:"last_update"`
	LastTimestamp int64      `json:"last_timestamp" db:"last_timestamp"`
	TotalRecords  int64      `json:"total_records" db:"total_records"`
	StatusCode    StatusCode `json:"status_code" db:"status_code"`
	ErrorMessage  string     `json:"error_message,omitempty" db:"error_message"`
}

// IsFresh reports whether the status row records a successful collection
// newer than the given threshold relative to now.
func (s *Status) IsFresh(now time.Time, threshold time.Duration) bool {
	if s == nil || s.StatusCode != StatusSuccess {
		return false
	}
	return now.Sub(s.LastUpdate) < threshold
}
