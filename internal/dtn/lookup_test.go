package dtn

import (
	"testing"
	"time"

	"dtn-ingestion/internal/calendar"
)

func TestLookupTime_EasternWallClock(t *testing.T) {
	// The 2024-06-12 session cutoff: 20:00 ET, which is 00:00 UTC on the 13th.
	utc := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.UTC)
	et := time.Date(2024, time.June, 12, 20, 0, 0, 0, calendar.Eastern)
	if !utc.Equal(et) {
		t.Fatal("fixture instants diverged")
	}

	const want = "20240612 200000"
	if got := lookupTime(utc); got != want {
		t.Errorf("lookupTime(UTC instant) = %q, want %q", got, want)
	}
	if got := lookupTime(et); got != want {
		t.Errorf("lookupTime(ET instant) = %q, want %q", got, want)
	}
}

func TestParseLookupTimestamp(t *testing.T) {
	date, usecs, err := parseLookupTimestamp("2024-06-12 09:30:01.250000")
	if err != nil {
		t.Fatal(err)
	}
	if date.Year() != 2024 || date.Month() != time.June || date.Day() != 12 {
		t.Errorf("date = %v", date)
	}
	if want := int64(9*3600+30*60+1)*1_000_000 + 250_000; usecs != want {
		t.Errorf("usecs = %d, want %d", usecs, want)
	}
}

func TestParseLookupTimestamp_DateOnly(t *testing.T) {
	date, usecs, err := parseLookupTimestamp("2024-06-12")
	if err != nil {
		t.Fatal(err)
	}
	if usecs != 0 {
		t.Errorf("usecs = %d, want 0", usecs)
	}
	if date.Day() != 12 {
		t.Errorf("date = %v", date)
	}
}

func TestParseLookupTimestamp_Invalid(t *testing.T) {
	if _, _, err := parseLookupTimestamp("garbage"); err == nil {
		t.Error("expected an error for a malformed timestamp")
	}
	if _, _, err := parseLookupTimestamp("2024-06-12 9:30"); err == nil {
		t.Error("expected an error for a truncated clock")
	}
}

func TestParseQuoteLine(t *testing.T) {
	msg, ok := parseQuoteLine("Q,AAPL,189.50,100")
	if !ok {
		t.Fatal("expected a trade update")
	}
	if msg.Kind != KindTrade || msg.Symbol != "AAPL" || msg.MostRecentTrade != 189.50 || msg.MostRecentTradeSize != 100 {
		t.Errorf("msg = %+v", msg)
	}

	msg, ok = parseQuoteLine("P,SPY,543.21,0")
	if !ok || msg.Kind != KindSummary {
		t.Errorf("summary parse = %+v, ok=%v", msg, ok)
	}

	if _, ok := parseQuoteLine("S,SERVER CONNECTED"); ok {
		t.Error("system messages must be skipped")
	}
	if _, ok := parseQuoteLine("Q,AAPL,not-a-price,5"); ok {
		t.Error("unparseable prices must be skipped")
	}
}
