package live

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"dtn-ingestion/internal/calendar"
	"dtn-ingestion/internal/dtn"
	"dtn-ingestion/internal/metrics"
	"dtn-ingestion/internal/model"
)

const (
	defaultWorkers = 4
	shardBuffer    = 64
)

// Ingestor owns the live watch set. Subscribe backfills the recent-tick
// buffer before the feed subscription starts, so the buffer never has a gap
// between history and live flow.
type Ingestor struct {
	Quotes dtn.QuoteClient
	Hist   dtn.HistClient
	Sink   Sink

	// Workers is the fan-out pool size consuming the quote stream.
	Workers int

	// Now is the clock, injectable for tests.
	Now func() time.Time

	mu      sync.Mutex
	watched map[string]bool
	pending map[string]bool
}

func New(quotes dtn.QuoteClient, hist dtn.HistClient, sink Sink) *Ingestor {
	return &Ingestor{
		Quotes:  quotes,
		Hist:    hist,
		Sink:    sink,
		Workers: defaultWorkers,
		Now:     time.Now,
		watched: make(map[string]bool),
		pending: make(map[string]bool),
	}
}

// Subscribe watches a symbol, backfilling its tick buffer first. Subscribing
// an already-watched symbol is a no-op.
func (ing *Ingestor) Subscribe(ctx context.Context, symbol string, backfillMinutes int) error {
	ing.mu.Lock()
	if ing.watched[symbol] || ing.pending[symbol] {
		ing.mu.Unlock()
		return nil
	}
	ing.pending[symbol] = true
	ing.mu.Unlock()
	defer func() {
		ing.mu.Lock()
		delete(ing.pending, symbol)
		ing.mu.Unlock()
	}()

	if backfillMinutes > 0 {
		if err := ing.backfill(ctx, symbol, backfillMinutes); err != nil {
			// Live flow still starts; the buffer just begins at now.
			log.Printf("[liveingest] %s: backfill failed, continuing without history: %v", symbol, err)
		}
	}

	ing.mu.Lock()
	ing.watched[symbol] = true
	n := len(ing.watched)
	ing.mu.Unlock()

	if err := ing.Quotes.TradesWatch(symbol); err != nil {
		ing.mu.Lock()
		delete(ing.watched, symbol)
		n = len(ing.watched)
		ing.mu.Unlock()
		metrics.WatchedSymbols.Set(float64(n))
		return fmt.Errorf("watch %s: %w", symbol, err)
	}

	metrics.WatchedSymbols.Set(float64(n))
	log.Printf("[liveingest] subscribed %s (backfill %dm, %d watched)", symbol, backfillMinutes, n)
	return nil
}

// Unsubscribe stops watching a symbol. Unknown symbols are a no-op.
func (ing *Ingestor) Unsubscribe(ctx context.Context, symbol string) error {
	ing.mu.Lock()
	if !ing.watched[symbol] {
		ing.mu.Unlock()
		return nil
	}
	delete(ing.watched, symbol)
	n := len(ing.watched)
	ing.mu.Unlock()

	metrics.WatchedSymbols.Set(float64(n))
	if err := ing.Quotes.Unwatch(symbol); err != nil {
		return fmt.Errorf("unwatch %s: %w", symbol, err)
	}
	log.Printf("[liveingest] unsubscribed %s (%d watched)", symbol, n)
	return nil
}

// Watched returns the current watch set, sorted.
func (ing *Ingestor) Watched() []string {
	ing.mu.Lock()
	out := make([]string, 0, len(ing.watched))
	for s := range ing.watched {
		out = append(out, s)
	}
	ing.mu.Unlock()
	sort.Strings(out)
	return out
}

// IsWatched reports whether a symbol is currently subscribed.
func (ing *Ingestor) IsWatched(symbol string) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return ing.watched[symbol]
}

// backfill replaces the symbol's tick buffer with the vendor's trade prints
// for the trailing window, ending at the current Eastern wall-clock time.
func (ing *Ingestor) backfill(ctx context.Context, symbol string, minutes int) error {
	end := ing.Now().In(calendar.Eastern)
	start := end.Add(-time.Duration(minutes) * time.Minute)

	records, err := ing.Hist.RequestTicksInPeriod(ctx, symbol, start, end, true)
	if err != nil {
		return err
	}

	if err := ing.Sink.DeleteBuffer(ctx, symbol); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	ticks := make([]model.Tick, 0, len(records))
	for _, rec := range records {
		if rec.Last <= 0 {
			continue
		}
		ticks = append(ticks, model.Tick{
			Price:     rec.Last,
			Volume:    rec.LastSz,
			Timestamp: epochSeconds(rec.Timestamp()),
		})
	}
	if err := ing.Sink.AppendTicks(ctx, symbol, ticks); err != nil {
		return err
	}

	metrics.TicksBackfilled.Add(float64(len(ticks)))
	log.Printf("[liveingest] %s: backfilled %d ticks over %dm", symbol, len(ticks), minutes)
	return nil
}

// Run consumes the quote stream with a worker pool until the stream closes
// or the context ends. Messages are sharded to workers by symbol so every
// symbol's ticks stay in vendor-delivery order.
func (ing *Ingestor) Run(ctx context.Context) error {
	workers := ing.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	shards := make([]chan dtn.QuoteMessage, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan dtn.QuoteMessage, shardBuffer)
		wg.Add(1)
		go func(ch <-chan dtn.QuoteMessage) {
			defer wg.Done()
			for msg := range ch {
				ing.handleMessage(ctx, msg)
			}
		}(shards[i])
	}
	drain := func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return ctx.Err()
		case msg, ok := <-ing.Quotes.Messages():
			if !ok {
				drain()
				return ctx.Err()
			}
			shards[shardIndex(msg.Symbol, workers)] <- msg
		}
	}
}

func shardIndex(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}

// handleMessage applies the publish rules: trades need a positive price and
// size, summaries only a positive price (size zero marks them downstream).
func (ing *Ingestor) handleMessage(ctx context.Context, msg dtn.QuoteMessage) {
	if !ing.IsWatched(msg.Symbol) {
		return
	}

	switch msg.Kind {
	case dtn.KindTrade:
		if msg.MostRecentTrade > 0 && msg.MostRecentTradeSize > 0 {
			ing.publish(ctx, msg.Symbol, msg.MostRecentTrade, msg.MostRecentTradeSize)
		}
	case dtn.KindSummary:
		if msg.MostRecentTrade > 0 {
			ing.publish(ctx, msg.Symbol, msg.MostRecentTrade, 0)
		}
	}
}

func (ing *Ingestor) publish(ctx context.Context, symbol string, price float64, volume int64) {
	tick := model.Tick{
		Price:     price,
		Volume:    volume,
		Timestamp: epochSeconds(ing.Now()),
	}
	if err := ing.Sink.PublishTick(ctx, symbol, tick); err != nil {
		log.Printf("[liveingest] %s: tick publish failed: %v", symbol, err)
		return
	}
	metrics.TicksPublished.Inc()
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
