// Package historical implements the gap-filling OHLC ingestor: probe the
// store for the latest bar per (symbol, timeframe), fetch the missing range
// from the vendor and write it into per-day measurements.
package historical

import (
	"errors"
	"fmt"
	"time"

	"dtn-ingestion/internal/dtn"
	"dtn-ingestion/internal/model"
)

// ErrSchemaMismatch marks a vendor response whose rows are missing required
// columns. The whole batch is rejected; partial writes would corrupt the
// series.
var ErrSchemaMismatch = errors.New("vendor response schema mismatch")

// MeasurementBars is one write group: all consecutive bars that land in the
// same per-day measurement, in ascending timestamp order.
type MeasurementBars struct {
	Measurement string
	Bars        []model.Bar
}

// FormatIntradayBars maps vendor intraday rows into per-day write groups for
// one timeframe. Rows after cutoff are dropped so an in-progress session
// never leaks into the store. Input order is preserved.
func FormatIntradayBars(symbol, tfCode string, rows []dtn.IntradayBar, cutoff time.Time) ([]MeasurementBars, error) {
	var groups []MeasurementBars
	for _, row := range rows {
		if row.Date.IsZero() {
			return nil, fmt.Errorf("%w: intraday bar for %s/%s has no date", ErrSchemaMismatch, symbol, tfCode)
		}
		ts := row.Timestamp()
		if ts.After(cutoff) {
			continue
		}

		bar := model.Bar{
			TS:     ts.UTC(),
			Open:   row.OpenP,
			High:   row.HighP,
			Low:    row.LowP,
			Close:  row.CloseP,
			Volume: intradayVolume(row),
		}
		appendBar(&groups, model.MeasurementName(symbol, ts, tfCode), bar)
	}
	return groups, nil
}

// FormatDailyBars maps vendor end-of-day rows into per-day write groups.
func FormatDailyBars(symbol string, rows []dtn.DailyBar, cutoff time.Time) ([]MeasurementBars, error) {
	var groups []MeasurementBars
	for _, row := range rows {
		if row.Date.IsZero() {
			return nil, fmt.Errorf("%w: daily bar for %s has no date", ErrSchemaMismatch, symbol)
		}
		ts := row.Timestamp()
		if ts.After(cutoff) {
			continue
		}

		var volume int64
		if row.HasPrdVlm {
			volume = row.PrdVlm
		}
		bar := model.Bar{
			TS:     ts.UTC(),
			Open:   row.OpenP,
			High:   row.HighP,
			Low:    row.LowP,
			Close:  row.CloseP,
			Volume: volume,
		}
		appendBar(&groups, model.MeasurementName(symbol, ts, "1d"), bar)
	}
	return groups, nil
}

// intradayVolume resolves the volume column: per-period volume when present,
// then cumulative session volume, then zero.
func intradayVolume(row dtn.IntradayBar) int64 {
	switch {
	case row.HasPrdVlm:
		return row.PrdVlm
	case row.HasTotVlm:
		return row.TotVlm
	default:
		return 0
	}
}

func appendBar(groups *[]MeasurementBars, measurement string, bar model.Bar) {
	n := len(*groups)
	if n > 0 && (*groups)[n-1].Measurement == measurement {
		(*groups)[n-1].Bars = append((*groups)[n-1].Bars, bar)
		return
	}
	*groups = append(*groups, MeasurementBars{Measurement: measurement, Bars: []model.Bar{bar}})
}
