package historical

import (
	"context"
	"log"
	"time"

	"dtn-ingestion/internal/calendar"
	"dtn-ingestion/internal/dtn"
	"dtn-ingestion/internal/metrics"
	"dtn-ingestion/internal/model"
)

// Pacing between consecutive vendor lookups. Zeroed in tests.
const (
	defaultTFDelay     = 200 * time.Millisecond
	defaultSymbolDelay = 500 * time.Millisecond
)

// BarStore is the slice of the time-series store the ingestor needs.
type BarStore interface {
	LatestBarTime(ctx context.Context, symbol, tfCode string) (time.Time, bool)
	WriteBarGroup(ctx context.Context, measurement string, tags map[string]string, bars []model.Bar) error
}

// SymbolSource supplies the active symbol set and records run completions.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]model.Symbol, error)
	WriteLastIngestion(ctx context.Context, sym *model.Symbol, ts time.Time)
}

// IntervalSource resolves the timeframe codes enabled by a symbol's
// historical schedule. An empty result means no restriction is configured.
type IntervalSource interface {
	HistoricalIntervals(ctx context.Context, symbol string) []string
}

// Ingestor fills OHLC gaps for every active symbol across the timeframe
// table. Each (symbol, timeframe) unit fails independently; one bad series
// never blocks the rest of the run.
type Ingestor struct {
	Hist    dtn.HistClient
	Store   BarStore
	Symbols SymbolSource

	// Intervals restricts full passes to each symbol's scheduled timeframes.
	// Nil (or an empty lookup result) means the whole timeframe table.
	Intervals IntervalSource

	// TimeframeDays overrides the per-timeframe depth cap, keyed by code.
	TimeframeDays map[string]int

	// TFDelay and SymbolDelay pace vendor lookups.
	TFDelay     time.Duration
	SymbolDelay time.Duration

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

func New(hist dtn.HistClient, store BarStore, symbols SymbolSource) *Ingestor {
	return &Ingestor{
		Hist:        hist,
		Store:       store,
		Symbols:     symbols,
		TFDelay:     defaultTFDelay,
		SymbolDelay: defaultSymbolDelay,
		Now:         time.Now,
	}
}

// RunOnce performs a full ingestion pass over every active symbol and all
// timeframes. Runs during trading hours are refused: the session is still
// accumulating bars and a partial day would be written.
func (ing *Ingestor) RunOnce(ctx context.Context) error {
	now := ing.Now()
	if calendar.IsTradingHours(now) {
		log.Printf("[histingest] run refused: market is open, deferring to after the session")
		return nil
	}
	cutoff := calendar.LastCompletedSessionEnd(now)

	syms, err := ing.Symbols.ActiveSymbols(ctx)
	if err != nil {
		return err
	}
	log.Printf("[histingest] starting pass: %d symbols, cutoff %s", len(syms), cutoff.Format(time.RFC3339))

	for i := range syms {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ing.ingestSymbol(ctx, &syms[i], cutoff, ing.symbolCodes(ctx, syms[i].Symbol))
		if i < len(syms)-1 {
			sleep(ctx, ing.SymbolDelay)
		}
	}
	log.Printf("[histingest] pass complete")
	return nil
}

// RunSymbol ingests one symbol for the given timeframe codes. Scheduled
// per-symbol jobs call this; the trading-hours gate still applies.
func (ing *Ingestor) RunSymbol(ctx context.Context, sym *model.Symbol, codes []string) error {
	now := ing.Now()
	if calendar.IsTradingHours(now) {
		log.Printf("[histingest] %s: run refused, market is open", sym.Symbol)
		return nil
	}
	if len(codes) == 0 {
		codes = ing.symbolCodes(ctx, sym.Symbol)
	}
	ing.ingestSymbol(ctx, sym, calendar.LastCompletedSessionEnd(now), codes)
	return nil
}

// symbolCodes returns the symbol's scheduled timeframes, falling back to the
// full table when no schedule restricts them.
func (ing *Ingestor) symbolCodes(ctx context.Context, symbol string) []string {
	if ing.Intervals != nil {
		if codes := ing.Intervals.HistoricalIntervals(ctx, symbol); len(codes) > 0 {
			return codes
		}
	}
	return model.AllTimeframeCodes()
}

func (ing *Ingestor) ingestSymbol(ctx context.Context, sym *model.Symbol, cutoff time.Time, codes []string) {
	for i, code := range codes {
		tf, ok := model.TimeframeByCode(code)
		if !ok {
			continue
		}
		if err := ing.ingestTimeframe(ctx, sym, tf, cutoff); err != nil {
			metrics.IngestErrors.WithLabelValues(tf.Code).Inc()
			log.Printf("[histingest] %s/%s: %v", sym.Symbol, tf.Code, err)
		}
		if i < len(codes)-1 {
			sleep(ctx, ing.TFDelay)
		}
	}
	ing.Symbols.WriteLastIngestion(ctx, sym, ing.Now())
}

// ingestTimeframe fills one (symbol, timeframe) series up to cutoff.
func (ing *Ingestor) ingestTimeframe(ctx context.Context, sym *model.Symbol, tf model.Timeframe, cutoff time.Time) error {
	depth := ing.depthDays(sym, tf)
	latest, found := ing.Store.LatestBarTime(ctx, sym.Symbol, tf.Code)

	var groups []MeasurementBars
	var err error
	if tf.Intraday() {
		groups, err = ing.fetchIntraday(ctx, sym.Symbol, tf, cutoff, latest, found, depth)
	} else {
		groups, err = ing.fetchDaily(ctx, sym.Symbol, cutoff, latest, found, depth)
	}
	if err != nil || groups == nil {
		return err
	}

	// Bar series are tagged {symbol, exchange} only; security_type belongs
	// to the symbol catalog points.
	tags := map[string]string{
		"symbol":   sym.Symbol,
		"exchange": sym.Exchange,
	}
	written := 0
	for _, g := range groups {
		start := time.Now()
		if err := ing.Store.WriteBarGroup(ctx, g.Measurement, tags, g.Bars); err != nil {
			return err
		}
		metrics.WriteDuration.Observe(time.Since(start).Seconds())
		written += len(g.Bars)
	}
	if written > 0 {
		metrics.BarsWritten.WithLabelValues(tf.Code).Add(float64(written))
		log.Printf("[histingest] %s/%s: wrote %d bars across %d measurements",
			sym.Symbol, tf.Code, written, len(groups))
	}
	return nil
}

// fetchIntraday requests [start, cutoff] interval bars, where start is the
// stored frontier or the depth-capped window start. A nil, nil return means
// the series is already up to date.
func (ing *Ingestor) fetchIntraday(ctx context.Context, symbol string, tf model.Timeframe, cutoff, latest time.Time, found bool, depth int) ([]MeasurementBars, error) {
	start := cutoff.AddDate(0, 0, -depth)
	if found {
		start = latest
	}
	if !start.Before(cutoff) {
		return nil, nil
	}

	metrics.VendorRequests.WithLabelValues("intraday").Inc()
	rows, err := ing.Hist.RequestBarsInPeriod(ctx, symbol, tf.Interval, tf.Unit, start, cutoff, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return FormatIntradayBars(symbol, tf.Code, rows, cutoff)
}

// fetchDaily requests the last N end-of-day bars, where N covers the gap
// since the stored frontier, or the full depth for a fresh series.
func (ing *Ingestor) fetchDaily(ctx context.Context, symbol string, cutoff, latest time.Time, found bool, depth int) ([]MeasurementBars, error) {
	days := depth
	if found {
		days = int(ing.Now().Sub(latest).Hours()/24) + 1
	}
	if days <= 0 {
		return nil, nil
	}

	metrics.VendorRequests.WithLabelValues("daily").Inc()
	rows, err := ing.Hist.RequestDailyData(ctx, symbol, days, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return FormatDailyBars(symbol, rows, cutoff)
}

// depthDays caps the request window to the smaller of the symbol's depth and
// the timeframe's cap, honoring any configured override.
func (ing *Ingestor) depthDays(sym *model.Symbol, tf model.Timeframe) int {
	max := tf.MaxDays
	if override, ok := ing.TimeframeDays[tf.Code]; ok && override > 0 && override < max {
		max = override
	}
	if sym.HistoricalDays > 0 && sym.HistoricalDays < max {
		return sym.HistoricalDays
	}
	return max
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
