// Package reconcile converges the live watch set onto the desired symbol
// set: subscribe what is desired but unwatched, drop what is watched but no
// longer desired, and auto-stop opted-in symbols outside trading hours.
package reconcile

import (
	"context"
	"log"
	"time"

	"dtn-ingestion/internal/calendar"
	"dtn-ingestion/internal/model"
	"dtn-ingestion/internal/store/redis"
)

const defaultInterval = 60 * time.Second

// Control is the reconciler's read view of the control plane.
type Control interface {
	DesiredSymbols(ctx context.Context) ([]model.SymbolRef, error)
	BackfillMinutes(ctx context.Context, symbol string) int
	AutoStop(ctx context.Context, symbol string) bool
}

// Live is the subscription surface of the tick ingestor.
type Live interface {
	Subscribe(ctx context.Context, symbol string, backfillMinutes int) error
	Unsubscribe(ctx context.Context, symbol string) error
	Watched() []string
}

// Reconciler drives the watch set toward the desired set, on change
// notifications and on a fixed safety interval.
type Reconciler struct {
	Control Control
	Live    Live

	// KV carries change notifications. Nil means interval-only operation.
	KV *redis.KV

	// Interval is the periodic safety sweep.
	Interval time.Duration

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

func New(control Control, live Live, kv *redis.KV) *Reconciler {
	return &Reconciler{
		Control:  control,
		Live:     live,
		KV:       kv,
		Interval: defaultInterval,
		Now:      time.Now,
	}
}

// Run reconciles at boot, then on every change notification and interval
// tick until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Reconcile(ctx)

	var notifications <-chan *notification
	if r.KV != nil {
		sub := r.KV.Subscribe(ctx, model.SymbolUpdatesChannel)
		defer sub.Close()
		ch := make(chan *notification, 16)
		go func() {
			defer close(ch)
			for msg := range sub.Channel() {
				select {
				case ch <- &notification{payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}()
		notifications = ch
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			log.Printf("[reconcile] change notification: %s", n.payload)
			r.Reconcile(ctx)
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

type notification struct{ payload string }

// Reconcile performs one convergence pass. Per-symbol failures are logged
// and retried on the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) {
	desired, err := r.Control.DesiredSymbols(ctx)
	if err != nil {
		log.Printf("[reconcile] desired set unavailable, keeping current watch set: %v", err)
		return
	}

	desiredSet := make(map[string]bool, len(desired))
	for _, ref := range desired {
		desiredSet[ref.Symbol] = true
	}

	marketOpen := calendar.IsTradingHours(r.Now())

	for _, ref := range desired {
		if r.Control.AutoStop(ctx, ref.Symbol) && !marketOpen {
			continue // stays (or goes) unwatched until the next session
		}
		if err := r.Live.Subscribe(ctx, ref.Symbol, r.Control.BackfillMinutes(ctx, ref.Symbol)); err != nil {
			log.Printf("[reconcile] subscribe %s: %v", ref.Symbol, err)
		}
	}

	for _, symbol := range r.Live.Watched() {
		drop := !desiredSet[symbol]
		if !drop && !marketOpen && r.Control.AutoStop(ctx, symbol) {
			drop = true
			log.Printf("[reconcile] auto-stopping %s outside trading hours", symbol)
		}
		if drop {
			if err := r.Live.Unsubscribe(ctx, symbol); err != nil {
				log.Printf("[reconcile] unsubscribe %s: %v", symbol, err)
			}
		}
	}
}
