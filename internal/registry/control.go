package registry

import (
	"context"

	"dtn-ingestion/internal/model"
)

// Control is the reconciler's view of the control plane: the desired live
// set plus per-symbol subscription parameters resolved from the catalog and
// the schedule store.
type Control struct {
	Symbols   *SymbolRegistry
	Schedules *ScheduleRegistry

	// DefaultBackfillMinutes applies when a symbol carries no backfill
	// window of its own.
	DefaultBackfillMinutes int
}

func NewControl(symbols *SymbolRegistry, schedules *ScheduleRegistry, defaultBackfill int) *Control {
	return &Control{
		Symbols:                symbols,
		Schedules:              schedules,
		DefaultBackfillMinutes: defaultBackfill,
	}
}

// DesiredSymbols returns the deduplicated desired live set.
func (c *Control) DesiredSymbols(ctx context.Context) ([]model.SymbolRef, error) {
	return c.Schedules.DesiredSymbols(ctx)
}

// BackfillMinutes resolves the backfill window for a symbol, falling back
// to the default when the symbol is unknown or carries no window.
func (c *Control) BackfillMinutes(ctx context.Context, symbol string) int {
	sym, err := c.Symbols.Get(ctx, symbol)
	if err != nil || sym.BackfillMinutes <= 0 {
		return c.DefaultBackfillMinutes
	}
	return sym.BackfillMinutes
}

// AutoStop reports whether a symbol's live schedule requests unsubscription
// outside trading hours. No schedule means no auto-stop.
func (c *Control) AutoStop(ctx context.Context, symbol string) bool {
	sched, err := c.Schedules.Get(ctx, symbol, model.ScheduleLive)
	if err != nil {
		return false
	}
	return sched.Enabled && sched.AutoStop()
}
