package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Dataset Types
// -----------------------------------------------------------------------------

// HistoricalRecord is one row of the historical price dataset.
type HistoricalRecord struct {
	Offset    int64           // 1-based data row number in the source (header excluded)
	Timestamp time.Time       // Original observation time
	Price     decimal.Decimal // Required price column

	// Optional OHLCV columns; nil when the cell is empty or absent.
	Open   *decimal.Decimal
	High   *decimal.Decimal
	Low    *decimal.Decimal
	Close  *decimal.Decimal
	Volume *decimal.Decimal

	// Extra numeric columns declared in the schema, keyed by field name.
	Extra map[string]decimal.Decimal
}

// Dataset is an ordered sequence of records, non-decreasing by Timestamp.
type Dataset []HistoricalRecord

// Start returns the timestamp of the first record, or the zero time if empty.
func (d Dataset) Start() time.Time {
	if len(d) == 0 {
		return time.Time{}
	}
	return d[0].Timestamp
}

// Sorted reports whether timestamps are non-decreasing.
func (d Dataset) Sorted() bool {
	for i := 1; i < len(d); i++ {
		if d[i].Timestamp.Before(d[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Emission Types
// -----------------------------------------------------------------------------

// DeliveryStatus is the lifecycle state of an EmissionEvent.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"  // transient errors, retries exhausted
	StatusDropped DeliveryStatus = "dropped" // permanent rejection, never retried
)

// Terminal reports whether no further delivery attempts will be made.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusDropped
}

// Fields holds derived numeric values written alongside a record.
type Fields map[string]float64

// EmissionEvent is a record scheduled for delivery at EmitAt.
type EmissionEvent struct {
	Record HistoricalRecord
	EmitAt time.Time // Rebased timestamp, also written as the point timestamp
	Pass   int       // 1-based dataset pass (loop mode)
	Seq    int64     // 1-based emission sequence across passes

	Derived Fields // Optional indicator fields

	Status   DeliveryStatus
	Attempts int
	Err      error
	SentAt   time.Time // Wall time the terminal status was reached
}

// NewEmissionEvent creates a pending event.
func NewEmissionEvent(rec HistoricalRecord, emitAt time.Time, pass int, seq int64) *EmissionEvent {
	return &EmissionEvent{
		Record: rec,
		EmitAt: emitAt,
		Pass:   pass,
		Seq:    seq,
		Status: StatusPending,
	}
}

// Lag returns how late the event reached its terminal status.
func (e *EmissionEvent) Lag() time.Duration {
	if e.SentAt.IsZero() {
		return 0
	}
	return e.SentAt.Sub(e.EmitAt)
}
