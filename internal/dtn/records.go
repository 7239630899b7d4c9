package dtn

import (
	"time"

	"dtn-ingestion/internal/calendar"
)

// Raw vendor records, one concrete type per response shape. Field mapping to
// store types happens at the ingestor boundary, never here.

// IntradayBar is a vendor bar for second-based timeframes. The vendor splits
// the timestamp into a date and microseconds within that date, both in
// Eastern time.
type IntradayBar struct {
	Date   time.Time // date component only (year, month, day)
	TimeUS int64     // microseconds since Eastern midnight

	OpenP  float64
	HighP  float64
	LowP   float64
	CloseP float64

	// PrdVlm is the per-period volume; TotVlm the cumulative session volume.
	// Has* record whether the vendor supplied the column at all.
	PrdVlm    int64
	TotVlm    int64
	HasPrdVlm bool
	HasTotVlm bool
}

// Timestamp composes the bar's Eastern-aware timestamp.
func (b IntradayBar) Timestamp() time.Time {
	return ComposeEastern(b.Date, b.TimeUS)
}

// DailyBar is a vendor end-of-day bar: date only, priced at Eastern midnight.
type DailyBar struct {
	Date time.Time

	OpenP  float64
	HighP  float64
	LowP   float64
	CloseP float64

	PrdVlm    int64
	HasPrdVlm bool
}

// Timestamp returns Eastern midnight of the bar's date.
func (b DailyBar) Timestamp() time.Time {
	return ComposeEastern(b.Date, 0)
}

// TickRecord is a vendor trade print used for intraday tick backfill.
type TickRecord struct {
	Date   time.Time
	TimeUS int64

	Last   float64 // trade price
	LastSz int64   // trade size
}

// Timestamp composes the tick's Eastern-aware timestamp.
func (t TickRecord) Timestamp() time.Time {
	return ComposeEastern(t.Date, t.TimeUS)
}

// ComposeEastern combines a date component with microseconds-since-midnight
// into an Eastern-aware instant. DST transitions are handled by the location:
// the composed wall-clock time is interpreted in America/New_York.
func ComposeEastern(date time.Time, usecs int64) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, int(usecs)*1000, calendar.Eastern)
}
