// Package sched runs the cron plane: per-symbol historical schedules plus
// the global nightly pass, all evaluated in Eastern time.
package sched

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dtn-ingestion/internal/calendar"
	"dtn-ingestion/internal/model"
	"dtn-ingestion/internal/store/redis"
)

// Schedules is the schedule store view the scheduler needs.
type Schedules interface {
	ListHistorical(ctx context.Context) ([]model.Schedule, error)
	MarkRun(ctx context.Context, symbol, scheduleType string, ts time.Time) error
	SystemConfig(ctx context.Context) (*model.SystemConfig, error)
}

// Symbols resolves tickers to catalog entries.
type Symbols interface {
	Get(ctx context.Context, symbol string) (*model.Symbol, error)
	ActiveSymbols(ctx context.Context) ([]model.Symbol, error)
}

// Runner executes ingestion work when a job fires.
type Runner interface {
	RunSymbol(ctx context.Context, sym *model.Symbol, codes []string) error
}

// Scheduler owns the cron instance. Load rebuilds the job table from the
// schedule store; change notifications trigger a reload.
type Scheduler struct {
	Schedules Schedules
	Symbols   Symbols
	Runner    Runner

	// KV carries change notifications. Nil means no live reloads.
	KV *redis.KV

	mu   sync.Mutex
	cron *cron.Cron
}

func New(schedules Schedules, symbols Symbols, runner Runner, kv *redis.KV) *Scheduler {
	return &Scheduler{Schedules: schedules, Symbols: symbols, Runner: runner, KV: kv}
}

// Load rebuilds the job table: one job per enabled historical schedule plus
// the global nightly pass. Schedules with unparseable cron expressions are
// skipped with a warning; one bad schedule never blocks the rest.
func (s *Scheduler) Load(ctx context.Context) error {
	scheds, err := s.Schedules.ListHistorical(ctx)
	if err != nil {
		return err
	}
	sysCfg, err := s.Schedules.SystemConfig(ctx)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(calendar.Eastern))
	loaded := 0
	for i := range scheds {
		sched := scheds[i]
		if !sched.Enabled {
			continue
		}
		if _, err := c.AddFunc(sched.CronExpression, s.symbolJob(sched)); err != nil {
			log.Printf("[sched] skipping schedule %s: bad cron expression %q: %v",
				sched.ID, sched.CronExpression, err)
			continue
		}
		loaded++
	}

	global := cronSpec(sysCfg.ScheduleMinute, sysCfg.ScheduleHour)
	if _, err := c.AddFunc(global, s.globalJob(sysCfg)); err != nil {
		log.Printf("[sched] global nightly job rejected (%q): %v", global, err)
	}

	s.mu.Lock()
	old := s.cron
	s.cron = c
	c.Start()
	s.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	log.Printf("[sched] loaded %d symbol schedules, global pass at %s ET", loaded, global)
	return nil
}

// EntryCount reports how many jobs are registered, for health reporting.
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// Run loads the job table and reloads it on change notifications until the
// context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	defer s.Stop()

	if s.KV == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	sub := s.KV.Subscribe(ctx, model.SymbolUpdatesChannel, model.ConfigUpdatesChannel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			log.Printf("[sched] reload triggered by %s", msg.Channel)
			if err := s.Load(ctx); err != nil {
				log.Printf("[sched] reload failed, keeping previous job table: %v", err)
			}
		}
	}
}

// Stop halts the cron instance, letting running jobs finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// symbolJob builds the firing closure for one per-symbol schedule.
func (s *Scheduler) symbolJob(sched model.Schedule) func() {
	return func() {
		defer recoverJob(sched.ID)
		ctx := context.Background()

		sym, err := s.Symbols.Get(ctx, sched.Symbol)
		if err != nil {
			log.Printf("[sched] %s: symbol lookup failed: %v", sched.ID, err)
			return
		}
		if err := s.Runner.RunSymbol(ctx, sym, sched.Intervals()); err != nil {
			log.Printf("[sched] %s: run failed: %v", sched.ID, err)
		}
		if err := s.Schedules.MarkRun(ctx, sched.Symbol, sched.ScheduleType, time.Now()); err != nil {
			log.Printf("[sched] %s: last-run stamp failed: %v", sched.ID, err)
		}
	}
}

// globalJob builds the nightly full-catalog pass.
func (s *Scheduler) globalJob(cfg *model.SystemConfig) func() {
	codes := make([]string, 0, len(cfg.TimeframesToFetch))
	for code := range cfg.TimeframesToFetch {
		if _, ok := model.TimeframeByCode(code); ok {
			codes = append(codes, code)
		}
	}

	return func() {
		defer recoverJob("global")
		ctx := context.Background()

		syms, err := s.Symbols.ActiveSymbols(ctx)
		if err != nil {
			log.Printf("[sched] global pass: active symbols unavailable: %v", err)
			return
		}
		log.Printf("[sched] global pass firing for %d symbols", len(syms))
		for i := range syms {
			if err := s.Runner.RunSymbol(ctx, &syms[i], codes); err != nil {
				log.Printf("[sched] global pass: %s: %v", syms[i].Symbol, err)
			}
		}
	}
}

func cronSpec(minute, hour int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

func recoverJob(id string) {
	if r := recover(); r != nil {
		log.Printf("[sched] job %s panicked: %v", id, r)
	}
}
