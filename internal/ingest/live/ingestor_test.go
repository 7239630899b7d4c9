package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"dtn-ingestion/internal/dtn"
	"dtn-ingestion/internal/model"
)

// eventLog records the order of feed and sink operations across fakes.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeQuotes struct {
	log *eventLog
	ch  chan dtn.QuoteMessage
}

func newFakeQuotes(log *eventLog) *fakeQuotes {
	return &fakeQuotes{log: log, ch: make(chan dtn.QuoteMessage, 16)}
}

func (f *fakeQuotes) TradesWatch(symbol string) error {
	f.log.add("watch:" + symbol)
	return nil
}

func (f *fakeQuotes) Unwatch(symbol string) error {
	f.log.add("unwatch:" + symbol)
	return nil
}

func (f *fakeQuotes) Messages() <-chan dtn.QuoteMessage { return f.ch }
func (f *fakeQuotes) Close() error                      { close(f.ch); return nil }

type fakeHistTicks struct {
	log     *eventLog
	records []dtn.TickRecord

	// entered and release let a test hold a fetch mid-flight.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeHistTicks) RequestTicksInPeriod(_ context.Context, symbol string, _, _ time.Time, _ bool) ([]dtn.TickRecord, error) {
	f.log.add("fetch:" + symbol)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.records, nil
}

func (f *fakeHistTicks) RequestBarsInPeriod(context.Context, string, int, string, time.Time, time.Time, bool) ([]dtn.IntradayBar, error) {
	return nil, nil
}

func (f *fakeHistTicks) RequestDailyData(context.Context, string, int, bool) ([]dtn.DailyBar, error) {
	return nil, nil
}

type fakeSink struct {
	log       *eventLog
	mu        sync.Mutex
	appended  map[string][]model.Tick
	published map[string][]model.Tick
}

func newFakeSink(log *eventLog) *fakeSink {
	return &fakeSink{
		log:       log,
		appended:  make(map[string][]model.Tick),
		published: make(map[string][]model.Tick),
	}
}

func (f *fakeSink) DeleteBuffer(_ context.Context, symbol string) error {
	f.log.add("delete:" + symbol)
	return nil
}

func (f *fakeSink) AppendTicks(_ context.Context, symbol string, ticks []model.Tick) error {
	f.log.add("append:" + symbol)
	f.mu.Lock()
	f.appended[symbol] = append(f.appended[symbol], ticks...)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) PublishTick(_ context.Context, symbol string, tick model.Tick) error {
	f.mu.Lock()
	f.published[symbol] = append(f.published[symbol], tick)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) publishedFor(symbol string) []model.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Tick(nil), f.published[symbol]...)
}

func newTestIngestor(log *eventLog, records []dtn.TickRecord) (*Ingestor, *fakeQuotes, *fakeSink) {
	quotes := newFakeQuotes(log)
	sink := newFakeSink(log)
	ing := New(quotes, &fakeHistTicks{log: log, records: records}, sink)
	ing.Workers = 1
	return ing, quotes, sink
}

func TestSubscribe_BackfillCompletesBeforeWatch(t *testing.T) {
	log := &eventLog{}
	records := []dtn.TickRecord{
		{Date: time.Date(2024, time.June, 12, 0, 0, 0, 0, time.UTC), TimeUS: int64(10*3600) * 1e6, Last: 101.5, LastSz: 20},
	}
	ing, _, sink := newTestIngestor(log, records)

	if err := ing.Subscribe(context.Background(), "AAPL", 120); err != nil {
		t.Fatal(err)
	}

	want := []string{"fetch:AAPL", "delete:AAPL", "append:AAPL", "watch:AAPL"}
	got := log.all()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	if ticks := sink.appended["AAPL"]; len(ticks) != 1 || ticks[0].Price != 101.5 || ticks[0].Volume != 20 {
		t.Errorf("backfilled ticks = %v", sink.appended["AAPL"])
	}
}

func TestSubscribe_Idempotent(t *testing.T) {
	log := &eventLog{}
	ing, _, _ := newTestIngestor(log, nil)

	if err := ing.Subscribe(context.Background(), "AAPL", 0); err != nil {
		t.Fatal(err)
	}
	if err := ing.Subscribe(context.Background(), "AAPL", 0); err != nil {
		t.Fatal(err)
	}

	got := log.all()
	if len(got) != 1 || got[0] != "watch:AAPL" {
		t.Errorf("expected a single watch, got %v", got)
	}
}

func TestSubscribe_ZeroBackfillSkipsHistory(t *testing.T) {
	log := &eventLog{}
	ing, _, _ := newTestIngestor(log, nil)

	if err := ing.Subscribe(context.Background(), "SPY", 0); err != nil {
		t.Fatal(err)
	}
	for _, e := range log.all() {
		if e == "fetch:SPY" || e == "delete:SPY" {
			t.Errorf("no history operations expected for zero backfill, got %v", log.all())
		}
	}
}

func TestUnsubscribe_UnknownIsNoop(t *testing.T) {
	log := &eventLog{}
	ing, _, _ := newTestIngestor(log, nil)

	if err := ing.Unsubscribe(context.Background(), "TSLA"); err != nil {
		t.Fatal(err)
	}
	if len(log.all()) != 0 {
		t.Errorf("expected no feed calls, got %v", log.all())
	}
}

func TestHandleMessage_PublishRules(t *testing.T) {
	log := &eventLog{}
	ing, _, sink := newTestIngestor(log, nil)
	if err := ing.Subscribe(context.Background(), "AAPL", 0); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ing.handleMessage(ctx, dtn.QuoteMessage{Kind: dtn.KindTrade, Symbol: "AAPL", MostRecentTrade: 100, MostRecentTradeSize: 5})
	ing.handleMessage(ctx, dtn.QuoteMessage{Kind: dtn.KindTrade, Symbol: "AAPL", MostRecentTrade: 100, MostRecentTradeSize: 0})
	ing.handleMessage(ctx, dtn.QuoteMessage{Kind: dtn.KindTrade, Symbol: "AAPL", MostRecentTrade: 0, MostRecentTradeSize: 5})
	ing.handleMessage(ctx, dtn.QuoteMessage{Kind: dtn.KindSummary, Symbol: "AAPL", MostRecentTrade: 99.5})
	ing.handleMessage(ctx, dtn.QuoteMessage{Kind: dtn.KindSummary, Symbol: "AAPL", MostRecentTrade: 0})

	ticks := sink.publishedFor("AAPL")
	if len(ticks) != 2 {
		t.Fatalf("published %d ticks, want 2: %v", len(ticks), ticks)
	}
	if ticks[0].Price != 100 || ticks[0].Volume != 5 {
		t.Errorf("trade tick = %+v", ticks[0])
	}
	if ticks[1].Price != 99.5 || ticks[1].Volume != 0 {
		t.Errorf("summary tick should carry zero volume, got %+v", ticks[1])
	}
}

func TestHandleMessage_IgnoresUnwatched(t *testing.T) {
	log := &eventLog{}
	ing, _, sink := newTestIngestor(log, nil)

	ing.handleMessage(context.Background(), dtn.QuoteMessage{
		Kind: dtn.KindTrade, Symbol: "MSFT", MostRecentTrade: 50, MostRecentTradeSize: 1,
	})
	if len(sink.publishedFor("MSFT")) != 0 {
		t.Error("messages for unwatched symbols must be dropped")
	}
}

func TestRun_ConsumesStreamUntilClose(t *testing.T) {
	log := &eventLog{}
	ing, quotes, sink := newTestIngestor(log, nil)
	if err := ing.Subscribe(context.Background(), "AAPL", 0); err != nil {
		t.Fatal(err)
	}

	quotes.ch <- dtn.QuoteMessage{Kind: dtn.KindTrade, Symbol: "AAPL", MostRecentTrade: 101, MostRecentTradeSize: 2}
	quotes.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ing.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sink.publishedFor("AAPL")) != 1 {
		t.Errorf("published = %v", sink.publishedFor("AAPL"))
	}
}

func TestRun_PerSymbolOrderPreserved(t *testing.T) {
	log := &eventLog{}
	ing, quotes, sink := newTestIngestor(log, nil)
	ing.Workers = 4
	if err := ing.Subscribe(context.Background(), "AAPL", 0); err != nil {
		t.Fatal(err)
	}

	const n = 200
	go func() {
		for i := 1; i <= n; i++ {
			quotes.ch <- dtn.QuoteMessage{Kind: dtn.KindTrade, Symbol: "AAPL", MostRecentTrade: float64(i), MostRecentTradeSize: 1}
		}
		quotes.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ing.Run(ctx); err != nil {
		t.Fatal(err)
	}

	ticks := sink.publishedFor("AAPL")
	if len(ticks) != n {
		t.Fatalf("published %d ticks, want %d", len(ticks), n)
	}
	for i := range ticks {
		if ticks[i].Price != float64(i+1) {
			t.Fatalf("tick %d has price %v: delivery order was not preserved", i, ticks[i].Price)
		}
	}
}

func TestSubscribe_ConcurrentSameSymbolSingleFlight(t *testing.T) {
	log := &eventLog{}
	quotes := newFakeQuotes(log)
	hist := &fakeHistTicks{log: log, entered: make(chan struct{}, 1), release: make(chan struct{})}
	ing := New(quotes, hist, newFakeSink(log))

	done := make(chan error, 1)
	go func() { done <- ing.Subscribe(context.Background(), "AAPL", 60) }()
	<-hist.entered

	// A second subscribe while the first is mid-backfill returns immediately
	// without a second fetch or watch.
	if err := ing.Subscribe(context.Background(), "AAPL", 60); err != nil {
		t.Fatal(err)
	}
	close(hist.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	var fetches, watches int
	for _, e := range log.all() {
		switch e {
		case "fetch:AAPL":
			fetches++
		case "watch:AAPL":
			watches++
		}
	}
	if fetches != 1 || watches != 1 {
		t.Errorf("fetches=%d watches=%d, want one of each (events %v)", fetches, watches, log.all())
	}
}
