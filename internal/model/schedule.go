package model

import (
	"fmt"
	"time"
)

// Schedule types.
const (
	ScheduleHistorical = "historical"
	ScheduleLive       = "live"
)

// Schedule is a per-symbol cron schedule stored under schedule:<SYMBOL>_<type>.
// At most one schedule exists per (symbol, type); the id is "<symbol>_<type>".
type Schedule struct {
	ID             string                 `json:"id"`
	Symbol         string                 `json:"symbol"`
	ScheduleType   string                 `json:"schedule_type"`
	CronExpression string                 `json:"cron_expression"` // 5-field, Eastern time
	Enabled        bool                   `json:"enabled"`
	Config         map[string]interface{} `json:"config"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	LastRun        *time.Time             `json:"last_run,omitempty"`
	NextRun        *time.Time             `json:"next_run,omitempty"`
}

// ScheduleID builds the canonical schedule id for (symbol, type).
func ScheduleID(symbol, scheduleType string) string {
	return symbol + "_" + scheduleType
}

// ScheduleKey builds the KV key for (symbol, type).
func ScheduleKey(symbol, scheduleType string) string {
	return "schedule:" + ScheduleID(symbol, scheduleType)
}

// Validate checks the schedule type and identity fields. Cron parsing is the
// scheduler's concern; a schedule with an unparseable expression is stored
// but skipped with a warning at registration time.
func (s *Schedule) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("schedule: symbol is required")
	}
	if s.ScheduleType != ScheduleHistorical && s.ScheduleType != ScheduleLive {
		return fmt.Errorf("schedule %s: unknown type %q", s.Symbol, s.ScheduleType)
	}
	if s.CronExpression == "" {
		return fmt.Errorf("schedule %s: cron expression is required", s.Symbol)
	}
	return nil
}

// Intervals returns the timeframe codes enabled for a historical schedule.
// Defaults to all timeframes when the config carries none.
func (s *Schedule) Intervals() []string {
	raw, ok := s.Config["intervals"]
	if !ok {
		return AllTimeframeCodes()
	}
	list, ok := raw.([]interface{})
	if !ok {
		return AllTimeframeCodes()
	}
	var codes []string
	for _, v := range list {
		if code, ok := v.(string); ok {
			if _, found := TimeframeByCode(code); found {
				codes = append(codes, code)
			}
		}
	}
	if len(codes) == 0 {
		return AllTimeframeCodes()
	}
	return codes
}

// AutoStop reports whether a live schedule should be unsubscribed outside
// trading hours.
func (s *Schedule) AutoStop() bool {
	v, ok := s.Config["auto_stop"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SystemConfig is the global ingestion configuration stored under
// dtn:system:config.
type SystemConfig struct {
	ScheduleHour      int            `json:"schedule_hour"`
	ScheduleMinute    int            `json:"schedule_minute"`
	TimeframesToFetch map[string]int `json:"timeframes_to_fetch,omitempty"`
}
