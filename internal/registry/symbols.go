// Package registry holds the control-plane registries: the symbol catalog
// (time-series backed, KV cached) and the schedule store (KV backed). Both
// ingestors and the admin API share these.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"dtn-ingestion/internal/model"
	"dtn-ingestion/internal/store/influx"
	"dtn-ingestion/internal/store/redis"
)

// SymbolRegistry manages the symbol catalog. Symbols live as points in
// symbol_<EXCHANGE>_<KIND> measurements; each write is a new point and the
// latest point per symbol is the current state. A JSON copy is cached in the
// KV store under symbol:<S> for fast lookups.
type SymbolRegistry struct {
	TS *influx.Store
	KV *redis.KV
}

func NewSymbolRegistry(ts *influx.Store, kv *redis.KV) *SymbolRegistry {
	return &SymbolRegistry{TS: ts, KV: kv}
}

// SearchFilter narrows a catalog search. Zero values match everything.
type SearchFilter struct {
	Query        string // substring match on ticker or description
	Exchange     string
	SecurityType string
	ActiveOnly   bool
}

// Add validates and stores a new symbol, then caches it. Defaults are applied
// for unset ingestion parameters.
func (r *SymbolRegistry) Add(ctx context.Context, sym *model.Symbol) error {
	sym.Symbol = strings.ToUpper(strings.TrimSpace(sym.Symbol))
	if sym.HistoricalDays == 0 {
		sym.HistoricalDays = 30
	}
	if err := sym.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if sym.CreatedAt.IsZero() {
		sym.CreatedAt = now
	}
	sym.UpdatedAt = now
	sym.Active = true

	r.writeState(sym, now)
	r.cache(ctx, sym)
	log.Printf("[registry] added symbol %s (%s/%s)", sym.Symbol, sym.Exchange, sym.SecurityType)
	return nil
}

// BulkAdd stores many symbols, skipping invalid entries. Returns the number
// added and one error per rejected symbol.
func (r *SymbolRegistry) BulkAdd(ctx context.Context, syms []model.Symbol) (int, []error) {
	var errs []error
	added := 0
	for i := range syms {
		if err := r.Add(ctx, &syms[i]); err != nil {
			errs = append(errs, err)
			continue
		}
		added++
	}
	r.TS.FlushSymbolWrites()
	return added, errs
}

// Get returns the current state of a symbol, trying the KV cache before the
// catalog.
func (r *SymbolRegistry) Get(ctx context.Context, symbol string) (*model.Symbol, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	if raw, err := r.KV.Get(ctx, model.SymbolCacheKey(symbol)); err == nil {
		var sym model.Symbol
		if err := json.Unmarshal([]byte(raw), &sym); err == nil {
			return &sym, nil
		}
	}

	syms, err := r.query(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range syms {
		if syms[i].Symbol == symbol {
			r.cache(ctx, &syms[i])
			return &syms[i], nil
		}
	}
	return nil, fmt.Errorf("symbol %s: %w", symbol, redis.ErrNotFound)
}

// Search returns catalog symbols matching the filter.
func (r *SymbolRegistry) Search(ctx context.Context, f SearchFilter) ([]model.Symbol, error) {
	syms, err := r.query(ctx, "")
	if err != nil {
		return nil, err
	}

	q := strings.ToUpper(strings.TrimSpace(f.Query))
	out := syms[:0]
	for _, s := range syms {
		if f.Exchange != "" && s.Exchange != f.Exchange {
			continue
		}
		if f.SecurityType != "" && s.SecurityType != f.SecurityType {
			continue
		}
		if f.ActiveOnly && !s.Active {
			continue
		}
		if q != "" && !strings.Contains(s.Symbol, q) &&
			!strings.Contains(strings.ToUpper(s.Description), q) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Update applies field updates to a symbol by writing a new state point.
func (r *SymbolRegistry) Update(ctx context.Context, symbol string, apply func(*model.Symbol)) (*model.Symbol, error) {
	sym, err := r.Get(ctx, symbol)
	if err != nil {
		return nil, err
	}

	apply(sym)
	if err := sym.Validate(); err != nil {
		return nil, err
	}
	sym.UpdatedAt = time.Now().UTC()

	r.writeState(sym, sym.UpdatedAt)
	r.TS.FlushSymbolWrites()
	r.cache(ctx, sym)
	return sym, nil
}

// SoftDelete deactivates a symbol. Its history and cached state remain.
func (r *SymbolRegistry) SoftDelete(ctx context.Context, symbol string) error {
	_, err := r.Update(ctx, symbol, func(s *model.Symbol) { s.Active = false })
	if err != nil {
		return err
	}
	log.Printf("[registry] deactivated symbol %s", strings.ToUpper(symbol))
	return nil
}

// ActiveSymbols returns every active symbol with its ingestion parameters.
// The historical ingestor iterates this set.
func (r *SymbolRegistry) ActiveSymbols(ctx context.Context) ([]model.Symbol, error) {
	syms, err := r.query(ctx, "")
	if err != nil {
		return nil, err
	}
	out := syms[:0]
	for _, s := range syms {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

// WriteLastIngestion stamps a symbol with the completion time of its latest
// historical run. Queued on the batched write path.
func (r *SymbolRegistry) WriteLastIngestion(ctx context.Context, sym *model.Symbol, ts time.Time) {
	ts = ts.UTC()
	sym.LastIngestion = &ts
	r.writeState(sym, ts)
	r.cache(ctx, sym)
}

// writeState queues one full state point for the symbol.
func (r *SymbolRegistry) writeState(sym *model.Symbol, ts time.Time) {
	fields := map[string]interface{}{
		"description":      sym.Description,
		"active":           sym.Active,
		"historical_days":  int64(sym.HistoricalDays),
		"backfill_minutes": int64(sym.BackfillMinutes),
		"added_by":         sym.AddedBy,
		"created_at":       sym.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       sym.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if sym.LastIngestion != nil {
		fields["last_ingestion"] = sym.LastIngestion.UTC().Format(time.RFC3339)
	}
	r.TS.WriteSymbolPoint(sym.Measurement(), map[string]string{
		"symbol":        sym.Symbol,
		"exchange":      sym.Exchange,
		"security_type": sym.SecurityType,
	}, fields, ts)
}

func (r *SymbolRegistry) cache(ctx context.Context, sym *model.Symbol) {
	raw, err := json.Marshal(sym)
	if err != nil {
		return
	}
	if err := r.KV.SetEX(ctx, model.SymbolCacheKey(sym.Symbol), string(raw),
		model.TickBufferTTLSeconds*time.Second); err != nil {
		log.Printf("[registry] symbol cache write failed for %s: %v", sym.Symbol, err)
	}
}

// query reads the latest state of every symbol (or one symbol) from the
// catalog, assembling structs field by field from the last point per series.
func (r *SymbolRegistry) query(ctx context.Context, symbol string) ([]model.Symbol, error) {
	symFilter := ""
	if symbol != "" {
		symFilter = fmt.Sprintf(` and r.symbol == %q`, symbol)
	}
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement =~ /^symbol_/%s)
  |> last()`, r.TS.SymbolBucket(), symFilter)

	res, err := r.TS.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("symbol catalog query: %w", err)
	}
	defer res.Close()

	bySymbol := map[string]*model.Symbol{}
	var order []string
	for res.Next() {
		rec := res.Record()
		ticker, _ := rec.ValueByKey("symbol").(string)
		if ticker == "" {
			continue
		}
		s, ok := bySymbol[ticker]
		if !ok {
			s = &model.Symbol{Symbol: ticker}
			s.Exchange, _ = rec.ValueByKey("exchange").(string)
			s.SecurityType, _ = rec.ValueByKey("security_type").(string)
			bySymbol[ticker] = s
			order = append(order, ticker)
		}

		switch rec.Field() {
		case "description":
			s.Description, _ = rec.Value().(string)
		case "active":
			s.Active, _ = rec.Value().(bool)
		case "historical_days":
			if v, ok := rec.Value().(int64); ok {
				s.HistoricalDays = int(v)
			}
		case "backfill_minutes":
			if v, ok := rec.Value().(int64); ok {
				s.BackfillMinutes = int(v)
			}
		case "added_by":
			s.AddedBy, _ = rec.Value().(string)
		case "created_at":
			if v, ok := rec.Value().(string); ok {
				s.CreatedAt, _ = time.Parse(time.RFC3339, v)
			}
		case "updated_at":
			if v, ok := rec.Value().(string); ok {
				s.UpdatedAt, _ = time.Parse(time.RFC3339, v)
			}
		case "last_ingestion":
			if v, ok := rec.Value().(string); ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					s.LastIngestion = &ts
				}
			}
		}
	}
	if res.Err() != nil {
		return nil, fmt.Errorf("symbol catalog query: %w", res.Err())
	}

	out := make([]model.Symbol, 0, len(order))
	for _, ticker := range order {
		out = append(out, *bySymbol[ticker])
	}
	return out, nil
}
