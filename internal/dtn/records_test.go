package dtn

import (
	"testing"
	"time"

	"dtn-ingestion/internal/calendar"
)

func TestComposeEastern(t *testing.T) {
	date := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	// 10:30:00.250 ET
	usecs := int64((10*3600 + 30*60) * 1e6) + 250_000
	got := ComposeEastern(date, usecs)

	want := time.Date(2024, time.March, 15, 10, 30, 0, 250_000_000, calendar.Eastern)
	if !got.Equal(want) {
		t.Errorf("ComposeEastern = %v, want %v", got, want)
	}

	// March 15 is EDT: 10:30 ET == 14:30Z.
	if utc := got.UTC(); utc.Hour() != 14 || utc.Minute() != 30 {
		t.Errorf("UTC conversion = %v, want 14:30Z", got.UTC())
	}
}

func TestComposeEastern_Midnight(t *testing.T) {
	date := time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC)
	got := ComposeEastern(date, 0)
	if got.Hour() != 0 || got.Minute() != 0 {
		t.Errorf("expected Eastern midnight, got %v", got)
	}
	// January is EST (UTC-5): midnight ET == 05:00Z.
	if utc := got.UTC(); utc.Hour() != 5 {
		t.Errorf("UTC conversion = %v, want 05:00Z", utc)
	}
}

func TestRecordTimestamps(t *testing.T) {
	date := time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC)

	bar := IntradayBar{Date: date, TimeUS: int64(9*3600+30*60) * 1e6}
	ts := bar.Timestamp()
	if ts.In(calendar.Eastern).Hour() != 9 || ts.In(calendar.Eastern).Minute() != 30 {
		t.Errorf("intraday bar timestamp = %v", ts)
	}

	daily := DailyBar{Date: date}
	if h := daily.Timestamp().In(calendar.Eastern).Hour(); h != 0 {
		t.Errorf("daily bar should sit at Eastern midnight, got hour %d", h)
	}

	tick := TickRecord{Date: date, TimeUS: int64(15*3600) * 1e6}
	if h := tick.Timestamp().In(calendar.Eastern).Hour(); h != 15 {
		t.Errorf("tick timestamp hour = %d, want 15", h)
	}
}
