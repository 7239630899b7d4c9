package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"dtn-ingestion/internal/model"
	"dtn-ingestion/internal/store/redis"
)

// ScheduleRegistry manages per-symbol cron schedules, the desired live
// symbol set and the global system config, all in the KV store. Mutations
// that affect running services publish change notifications.
type ScheduleRegistry struct {
	KV *redis.KV
}

func NewScheduleRegistry(kv *redis.KV) *ScheduleRegistry {
	return &ScheduleRegistry{KV: kv}
}

// Create stores a schedule under its canonical id <symbol>_<type>,
// replacing any existing schedule for the same pair.
func (r *ScheduleRegistry) Create(ctx context.Context, sched *model.Schedule) error {
	sched.Symbol = strings.ToUpper(strings.TrimSpace(sched.Symbol))
	if err := sched.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	sched.ID = model.ScheduleID(sched.Symbol, sched.ScheduleType)
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now

	if err := r.put(ctx, sched); err != nil {
		return err
	}
	r.notifySymbols(ctx)
	log.Printf("[registry] schedule %s created (cron %q, enabled=%v)",
		sched.ID, sched.CronExpression, sched.Enabled)
	return nil
}

// Get fetches one schedule. Returns redis.ErrNotFound when absent.
func (r *ScheduleRegistry) Get(ctx context.Context, symbol, scheduleType string) (*model.Schedule, error) {
	raw, err := r.KV.Get(ctx, model.ScheduleKey(strings.ToUpper(symbol), scheduleType))
	if err != nil {
		return nil, err
	}
	var sched model.Schedule
	if err := json.Unmarshal([]byte(raw), &sched); err != nil {
		return nil, fmt.Errorf("schedule %s_%s: decode: %w", symbol, scheduleType, err)
	}
	return &sched, nil
}

// HistoricalIntervals returns the timeframe codes enabled by the symbol's
// historical schedule. Symbols without one get nil, meaning no restriction;
// full ingestion passes resolve this per symbol.
func (r *ScheduleRegistry) HistoricalIntervals(ctx context.Context, symbol string) []string {
	sched, err := r.Get(ctx, symbol, model.ScheduleHistorical)
	if err != nil {
		return nil
	}
	return sched.Intervals()
}

// List returns every stored schedule.
func (r *ScheduleRegistry) List(ctx context.Context) ([]model.Schedule, error) {
	return r.scan(ctx, "schedule:*")
}

// ListHistorical returns every historical schedule; the scheduler loads
// these at boot and on change notifications.
func (r *ScheduleRegistry) ListHistorical(ctx context.Context) ([]model.Schedule, error) {
	return r.scan(ctx, "schedule:*_"+model.ScheduleHistorical)
}

// Update applies a mutation to a stored schedule.
func (r *ScheduleRegistry) Update(ctx context.Context, symbol, scheduleType string, apply func(*model.Schedule)) (*model.Schedule, error) {
	sched, err := r.Get(ctx, symbol, scheduleType)
	if err != nil {
		return nil, err
	}
	apply(sched)
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	sched.UpdatedAt = time.Now().UTC()
	if err := r.put(ctx, sched); err != nil {
		return nil, err
	}
	r.notifySymbols(ctx)
	return sched, nil
}

// Delete removes a schedule.
func (r *ScheduleRegistry) Delete(ctx context.Context, symbol, scheduleType string) error {
	if err := r.KV.Del(ctx, model.ScheduleKey(strings.ToUpper(symbol), scheduleType)); err != nil {
		return err
	}
	r.notifySymbols(ctx)
	log.Printf("[registry] schedule %s deleted", model.ScheduleID(strings.ToUpper(symbol), scheduleType))
	return nil
}

// MarkRun stamps a schedule's last run time after a job fires.
func (r *ScheduleRegistry) MarkRun(ctx context.Context, symbol, scheduleType string, ts time.Time) error {
	sched, err := r.Get(ctx, symbol, scheduleType)
	if err != nil {
		return err
	}
	ts = ts.UTC()
	sched.LastRun = &ts
	sched.UpdatedAt = ts
	return r.put(ctx, sched)
}

func (r *ScheduleRegistry) put(ctx context.Context, sched *model.Schedule) error {
	raw, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("schedule %s: encode: %w", sched.ID, err)
	}
	return r.KV.Set(ctx, "schedule:"+sched.ID, string(raw))
}

func (r *ScheduleRegistry) scan(ctx context.Context, pattern string) ([]model.Schedule, error) {
	keys, err := r.KV.ScanKeys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("schedule scan: %w", err)
	}
	var out []model.Schedule
	for _, key := range keys {
		raw, err := r.KV.Get(ctx, key)
		if err != nil {
			if err == redis.ErrNotFound {
				continue // expired between scan and get
			}
			return nil, err
		}
		var sched model.Schedule
		if err := json.Unmarshal([]byte(raw), &sched); err != nil {
			log.Printf("[registry] skipping undecodable schedule %s: %v", key, err)
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

// DesiredSymbols returns the desired live symbol set, duplicates removed.
// A missing key means an empty set.
func (r *ScheduleRegistry) DesiredSymbols(ctx context.Context) ([]model.SymbolRef, error) {
	raw, err := r.KV.Get(ctx, model.DesiredSymbolsKey)
	if err != nil {
		if err == redis.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var refs []model.SymbolRef
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("desired symbols: decode: %w", err)
	}
	return dedupeRefs(refs), nil
}

// SetDesiredSymbols replaces the desired set. Duplicate tickers are
// rejected, then a change notification goes out.
func (r *ScheduleRegistry) SetDesiredSymbols(ctx context.Context, refs []model.SymbolRef) error {
	seen := map[string]bool{}
	for i := range refs {
		refs[i].Symbol = strings.ToUpper(strings.TrimSpace(refs[i].Symbol))
		if refs[i].Symbol == "" {
			return fmt.Errorf("desired symbols: empty ticker at index %d", i)
		}
		if seen[refs[i].Symbol] {
			return fmt.Errorf("desired symbols: duplicate ticker %s", refs[i].Symbol)
		}
		seen[refs[i].Symbol] = true
	}

	raw, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	if err := r.KV.Set(ctx, model.DesiredSymbolsKey, string(raw)); err != nil {
		return err
	}
	r.notifySymbols(ctx)
	log.Printf("[registry] desired symbol set replaced (%d symbols)", len(refs))
	return nil
}

// AddDesiredSymbols merges new symbols into the desired set, ignoring
// tickers already present.
func (r *ScheduleRegistry) AddDesiredSymbols(ctx context.Context, refs []model.SymbolRef) (int, error) {
	current, err := r.DesiredSymbols(ctx)
	if err != nil {
		return 0, err
	}
	seen := map[string]bool{}
	for _, ref := range current {
		seen[ref.Symbol] = true
	}

	added := 0
	for _, ref := range refs {
		ref.Symbol = strings.ToUpper(strings.TrimSpace(ref.Symbol))
		if ref.Symbol == "" || seen[ref.Symbol] {
			continue
		}
		seen[ref.Symbol] = true
		current = append(current, ref)
		added++
	}
	if added == 0 {
		return 0, nil
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return 0, err
	}
	if err := r.KV.Set(ctx, model.DesiredSymbolsKey, string(raw)); err != nil {
		return 0, err
	}
	r.notifySymbols(ctx)
	return added, nil
}

// SystemConfig returns the global config, falling back to defaults
// (nightly run at 20:01 Eastern) when unset.
func (r *ScheduleRegistry) SystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	cfg := &model.SystemConfig{ScheduleHour: 20, ScheduleMinute: 1}
	raw, err := r.KV.Get(ctx, model.SystemConfigKey)
	if err != nil {
		if err == redis.ErrNotFound {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("system config: decode: %w", err)
	}
	return cfg, nil
}

// SetSystemConfig replaces the global config and notifies listeners.
func (r *ScheduleRegistry) SetSystemConfig(ctx context.Context, cfg *model.SystemConfig) error {
	if cfg.ScheduleHour < 0 || cfg.ScheduleHour > 23 {
		return fmt.Errorf("system config: schedule_hour %d out of range", cfg.ScheduleHour)
	}
	if cfg.ScheduleMinute < 0 || cfg.ScheduleMinute > 59 {
		return fmt.Errorf("system config: schedule_minute %d out of range", cfg.ScheduleMinute)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := r.KV.Set(ctx, model.SystemConfigKey, string(raw)); err != nil {
		return err
	}
	if err := r.KV.Publish(ctx, model.ConfigUpdatesChannel, model.ConfigUpdatedPayload); err != nil {
		log.Printf("[registry] config update notification failed: %v", err)
	}
	return nil
}

func (r *ScheduleRegistry) notifySymbols(ctx context.Context) {
	if err := r.KV.Publish(ctx, model.SymbolUpdatesChannel, model.SymbolsUpdatedPayload); err != nil {
		log.Printf("[registry] symbol update notification failed: %v", err)
	}
}

func dedupeRefs(refs []model.SymbolRef) []model.SymbolRef {
	seen := map[string]bool{}
	out := refs[:0]
	for _, ref := range refs {
		if seen[ref.Symbol] {
			continue
		}
		seen[ref.Symbol] = true
		out = append(out, ref)
	}
	return out
}
