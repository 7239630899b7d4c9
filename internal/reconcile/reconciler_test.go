package reconcile

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"dtn-ingestion/internal/calendar"
	"dtn-ingestion/internal/model"
)

type fakeControl struct {
	desired  []model.SymbolRef
	backfill map[string]int
	autoStop map[string]bool
}

func (f *fakeControl) DesiredSymbols(context.Context) ([]model.SymbolRef, error) {
	return f.desired, nil
}

func (f *fakeControl) BackfillMinutes(_ context.Context, symbol string) int {
	if m, ok := f.backfill[symbol]; ok {
		return m
	}
	return 120
}

func (f *fakeControl) AutoStop(_ context.Context, symbol string) bool {
	return f.autoStop[symbol]
}

type fakeLive struct {
	mu        sync.Mutex
	watched   map[string]bool
	backfills map[string]int
}

func newFakeLive(initial ...string) *fakeLive {
	f := &fakeLive{watched: map[string]bool{}, backfills: map[string]int{}}
	for _, s := range initial {
		f.watched[s] = true
	}
	return f
}

func (f *fakeLive) Subscribe(_ context.Context, symbol string, backfillMinutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.watched[symbol] {
		f.watched[symbol] = true
		f.backfills[symbol] = backfillMinutes
	}
	return nil
}

func (f *fakeLive) Unsubscribe(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.watched, symbol)
	return nil
}

func (f *fakeLive) Watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.watched))
	for s := range f.watched {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func marketOpenClock() func() time.Time {
	return func() time.Time {
		return time.Date(2024, time.June, 12, 11, 0, 0, 0, calendar.Eastern)
	}
}

func afterHoursClock() func() time.Time {
	return func() time.Time {
		return time.Date(2024, time.June, 12, 21, 0, 0, 0, calendar.Eastern)
	}
}

func refs(symbols ...string) []model.SymbolRef {
	out := make([]model.SymbolRef, len(symbols))
	for i, s := range symbols {
		out[i] = model.SymbolRef{Symbol: s, Exchange: "NASDAQ"}
	}
	return out
}

func TestReconcile_ConvergesWatchSet(t *testing.T) {
	control := &fakeControl{
		desired:  refs("AAPL", "MSFT"),
		backfill: map[string]int{"AAPL": 60},
	}
	live := newFakeLive("TSLA") // watched but no longer desired

	r := New(control, live, nil)
	r.Now = marketOpenClock()
	r.Reconcile(context.Background())

	got := live.Watched()
	want := []string{"AAPL", "MSFT"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("watched = %v, want %v", got, want)
	}
	if live.backfills["AAPL"] != 60 {
		t.Errorf("AAPL backfill = %d, want symbol's own 60", live.backfills["AAPL"])
	}
	if live.backfills["MSFT"] != 120 {
		t.Errorf("MSFT backfill = %d, want default 120", live.backfills["MSFT"])
	}
}

func TestReconcile_IsAFixedPoint(t *testing.T) {
	control := &fakeControl{desired: refs("AAPL")}
	live := newFakeLive()

	r := New(control, live, nil)
	r.Now = marketOpenClock()
	r.Reconcile(context.Background())
	first := live.Watched()

	r.Reconcile(context.Background())
	second := live.Watched()
	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("repeated reconcile changed state: %v then %v", first, second)
	}
}

func TestReconcile_AutoStopOutsideTradingHours(t *testing.T) {
	control := &fakeControl{
		desired:  refs("AAPL", "MSFT"),
		autoStop: map[string]bool{"AAPL": true},
	}
	live := newFakeLive("AAPL", "MSFT")

	r := New(control, live, nil)
	r.Now = afterHoursClock()
	r.Reconcile(context.Background())

	got := live.Watched()
	if len(got) != 1 || got[0] != "MSFT" {
		t.Fatalf("watched = %v, want [MSFT]", got)
	}
}

func TestReconcile_AutoStopSymbolStaysDuringHours(t *testing.T) {
	control := &fakeControl{
		desired:  refs("AAPL"),
		autoStop: map[string]bool{"AAPL": true},
	}
	live := newFakeLive()

	r := New(control, live, nil)
	r.Now = marketOpenClock()
	r.Reconcile(context.Background())

	if got := live.Watched(); len(got) != 1 || got[0] != "AAPL" {
		t.Fatalf("watched = %v, want [AAPL]", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	control := &fakeControl{desired: refs("AAPL")}
	live := newFakeLive()

	r := New(control, live, nil)
	r.Now = marketOpenClock()
	r.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Run returned %v, want context.DeadlineExceeded", err)
	}
	if got := live.Watched(); len(got) != 1 {
		t.Errorf("boot reconcile should have subscribed AAPL, watched = %v", got)
	}
}
