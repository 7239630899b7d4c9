package model

import (
	"time"

	"dtn-ingestion/internal/calendar"
)

// Bar is a single OHLC bar ready for the time-series store. TS is UTC with
// nanosecond precision; Volume is zero when the vendor supplied none.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// MeasurementName builds the per-symbol per-session-day partition name for a
// bar: ohlc_<ticker>_<YYYYMMDD>_<tf>, where the date is the bar timestamp's
// Eastern-time session date.
func MeasurementName(symbol string, ts time.Time, tfCode string) string {
	return "ohlc_" + symbol + "_" + calendar.SessionDate(ts) + "_" + tfCode
}
