package model

// Interval units for a timeframe.
const (
	UnitSeconds = "s"
	UnitDays    = "d"
)

// Timeframe maps a bar-series code to its vendor request parameters and the
// maximum historical depth the vendor serves for it.
type Timeframe struct {
	Code     string
	Interval int    // length in Unit
	Unit     string // UnitSeconds or UnitDays
	MaxDays  int    // per-timeframe historical depth cap
}

// Intraday reports whether the timeframe is sub-daily.
func (tf Timeframe) Intraday() bool { return tf.Unit == UnitSeconds }

// timeframes is the canonical table, in ascending interval order.
// Second timeframes cap at 7 days, minute/hour at 180, daily at 720.
var timeframes = []Timeframe{
	{Code: "1s", Interval: 1, Unit: UnitSeconds, MaxDays: 7},
	{Code: "5s", Interval: 5, Unit: UnitSeconds, MaxDays: 7},
	{Code: "10s", Interval: 10, Unit: UnitSeconds, MaxDays: 7},
	{Code: "15s", Interval: 15, Unit: UnitSeconds, MaxDays: 7},
	{Code: "30s", Interval: 30, Unit: UnitSeconds, MaxDays: 7},
	{Code: "45s", Interval: 45, Unit: UnitSeconds, MaxDays: 7},
	{Code: "1m", Interval: 60, Unit: UnitSeconds, MaxDays: 180},
	{Code: "5m", Interval: 300, Unit: UnitSeconds, MaxDays: 180},
	{Code: "10m", Interval: 600, Unit: UnitSeconds, MaxDays: 180},
	{Code: "15m", Interval: 900, Unit: UnitSeconds, MaxDays: 180},
	{Code: "30m", Interval: 1800, Unit: UnitSeconds, MaxDays: 180},
	{Code: "45m", Interval: 2700, Unit: UnitSeconds, MaxDays: 180},
	{Code: "1h", Interval: 3600, Unit: UnitSeconds, MaxDays: 180},
	{Code: "1d", Interval: 1, Unit: UnitDays, MaxDays: 720},
}

var timeframeIndex = func() map[string]Timeframe {
	m := make(map[string]Timeframe, len(timeframes))
	for _, tf := range timeframes {
		m[tf.Code] = tf
	}
	return m
}()

// AllTimeframes returns the full timeframe table in canonical order.
func AllTimeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

// AllTimeframeCodes returns the 14 timeframe codes in canonical order.
func AllTimeframeCodes() []string {
	codes := make([]string, len(timeframes))
	for i, tf := range timeframes {
		codes[i] = tf.Code
	}
	return codes
}

// TimeframeByCode looks up a timeframe by its code.
func TimeframeByCode(code string) (Timeframe, bool) {
	tf, ok := timeframeIndex[code]
	return tf, ok
}
