package historical

import (
	"errors"
	"testing"
	"time"

	"dtn-ingestion/internal/dtn"
)

func TestFormatIntradayBars_GroupsByDay(t *testing.T) {
	cutoff := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC) // 2024-06-12 20:00 ET

	rows := []dtn.IntradayBar{
		{Date: date(2024, 6, 11), TimeUS: us(9, 30), OpenP: 1, HighP: 2, LowP: 0.5, CloseP: 1.5, PrdVlm: 100, HasPrdVlm: true},
		{Date: date(2024, 6, 11), TimeUS: us(10, 30), OpenP: 1.5, HighP: 2, LowP: 1, CloseP: 1.8, PrdVlm: 50, HasPrdVlm: true},
		{Date: date(2024, 6, 12), TimeUS: us(9, 30), OpenP: 1.8, HighP: 2.1, LowP: 1.7, CloseP: 2, PrdVlm: 75, HasPrdVlm: true},
	}

	groups, err := FormatIntradayBars("AAPL", "1h", rows, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 day groups, got %d", len(groups))
	}
	if groups[0].Measurement != "ohlc_AAPL_20240611_1h" {
		t.Errorf("group 0 measurement = %s", groups[0].Measurement)
	}
	if groups[1].Measurement != "ohlc_AAPL_20240612_1h" {
		t.Errorf("group 1 measurement = %s", groups[1].Measurement)
	}
	if len(groups[0].Bars) != 2 || len(groups[1].Bars) != 1 {
		t.Errorf("bar counts = %d, %d", len(groups[0].Bars), len(groups[1].Bars))
	}

	// 09:30 ET on an EDT date is 13:30Z.
	if got := groups[0].Bars[0].TS; got.Hour() != 13 || got.Minute() != 30 {
		t.Errorf("first bar TS = %v, want 13:30Z", got)
	}
}

func TestFormatIntradayBars_DropsRowsAfterCutoff(t *testing.T) {
	cutoff := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC)

	rows := []dtn.IntradayBar{
		{Date: date(2024, 6, 12), TimeUS: us(15, 0), CloseP: 1},
		{Date: date(2024, 6, 13), TimeUS: us(9, 30), CloseP: 2}, // past the session end
	}
	groups, err := FormatIntradayBars("MSFT", "5m", rows, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || len(groups[0].Bars) != 1 {
		t.Fatalf("expected only the pre-cutoff bar, got %+v", groups)
	}
}

func TestFormatIntradayBars_VolumeFallback(t *testing.T) {
	cutoff := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC)

	rows := []dtn.IntradayBar{
		{Date: date(2024, 6, 12), TimeUS: us(9, 30), PrdVlm: 10, HasPrdVlm: true, TotVlm: 99, HasTotVlm: true},
		{Date: date(2024, 6, 12), TimeUS: us(9, 31), TotVlm: 99, HasTotVlm: true},
		{Date: date(2024, 6, 12), TimeUS: us(9, 32)},
	}
	groups, err := FormatIntradayBars("SPY", "1m", rows, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	bars := groups[0].Bars
	if bars[0].Volume != 10 {
		t.Errorf("per-period volume preferred: got %d", bars[0].Volume)
	}
	if bars[1].Volume != 99 {
		t.Errorf("cumulative fallback: got %d", bars[1].Volume)
	}
	if bars[2].Volume != 0 {
		t.Errorf("missing columns default to zero: got %d", bars[2].Volume)
	}
}

func TestFormatIntradayBars_SchemaMismatch(t *testing.T) {
	cutoff := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC)

	rows := []dtn.IntradayBar{
		{Date: date(2024, 6, 12), TimeUS: us(9, 30)},
		{}, // no date column
	}
	if _, err := FormatIntradayBars("QQQ", "1s", rows, cutoff); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestFormatDailyBars(t *testing.T) {
	cutoff := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC)

	rows := []dtn.DailyBar{
		{Date: date(2024, 6, 10), OpenP: 1, CloseP: 2, PrdVlm: 500, HasPrdVlm: true},
		{Date: date(2024, 6, 11), OpenP: 2, CloseP: 3},
	}
	groups, err := FormatDailyBars("AAPL", rows, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected one group per day, got %d", len(groups))
	}
	if groups[0].Measurement != "ohlc_AAPL_20240610_1d" {
		t.Errorf("measurement = %s", groups[0].Measurement)
	}
	if groups[0].Bars[0].Volume != 500 || groups[1].Bars[0].Volume != 0 {
		t.Errorf("daily volumes = %d, %d", groups[0].Bars[0].Volume, groups[1].Bars[0].Volume)
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func us(hour, min int) int64 {
	return int64(hour*3600+min*60) * 1_000_000
}
