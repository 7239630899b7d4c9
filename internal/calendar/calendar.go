// Package calendar provides the Eastern-time trading calendar: the
// trading-hours predicate used to gate historical ingestion, the last
// completed session end used as the fetch cutoff, and the session-date
// formatter used in per-day measurement names.
package calendar

import (
	"time"
	_ "time/tzdata" // embed zone data so containers without /usr/share/zoneinfo still resolve ET
)

// Eastern is the exchange time zone (America/New_York, DST-aware).
var Eastern *time.Location

// Trading hours in Eastern time
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0

	// SessionEndHour is when the extended session is considered fully
	// settled; intraday fetches never cross this boundary.
	SessionEndHour = 20
)

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("calendar: load America/New_York: " + err.Error())
	}
	Eastern = loc
}

// IsTradingHours returns true if t falls within regular trading hours
// (9:30 AM – 4:00 PM ET inclusive, Mon–Fri).
func IsTradingHours(t time.Time) bool {
	et := t.In(Eastern)
	wd := et.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm <= CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri in Eastern time.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// LastCompletedSessionEnd returns the UTC instant marking the end of the
// last fully completed trading session as of now: 20:00 ET on today's date
// if now is at or past 20:00 ET, otherwise 20:00 ET yesterday.
func LastCompletedSessionEnd(now time.Time) time.Time {
	et := now.In(Eastern)
	y, m, d := et.Date()
	if et.Hour() < SessionEndHour {
		y, m, d = et.AddDate(0, 0, -1).Date()
	}
	end := time.Date(y, m, d, SessionEndHour, 0, 0, 0, Eastern)
	return end.UTC()
}

// SessionDate returns the YYYYMMDD session date of t in Eastern time.
// Bars are partitioned per symbol per session date using this value.
func SessionDate(t time.Time) string {
	return t.In(Eastern).Format("20060102")
}
