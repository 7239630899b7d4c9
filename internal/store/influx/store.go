// Package influx wraps the time-series store shared by both ingestors:
// bar writes into per-symbol per-day measurements, symbol-management writes,
// and Flux query helpers. The wrapper adds a 60s health cache,
// reconnect-on-failure and retry with exponential backoff on transient
// errors.
package influx

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"regexp"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"dtn-ingestion/internal/model"
)

const (
	healthCacheTTL = 60 * time.Second

	// Retry policy for transient (connection / server 5xx) errors.
	maxAttempts    = 3
	baseRetryDelay = 5 * time.Second

	// Batched write options for the non-blocking symbol-management path.
	writeBatchSize     = 5000
	writeFlushMillis   = 10_000
	writeJitterMillis  = 2_000
	clientTimeoutMilli = 90_000
)

// Config configures the store.
type Config struct {
	URL          string
	Token        string
	Org          string
	Bucket       string // market-data bucket
	SymbolBucket string // symbol-management bucket
}

// Store is the process-scoped time-series client. Safe for concurrent use;
// the underlying write path batches internally.
type Store struct {
	cfg Config

	mu       sync.Mutex
	client   influxdb2.Client
	query    api.QueryAPI
	barWrite api.WriteAPIBlocking
	symWrite api.WriteAPI
	lastPing time.Time
}

// New creates a Store and its client. The connection is verified lazily via
// Ping; startup does not fail on an unreachable store.
func New(cfg Config) *Store {
	s := &Store{cfg: cfg}
	s.connect()
	return s
}

// connect (re)creates the underlying client. Caller must hold no lock.
func (s *Store) connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectLocked()
}

func (s *Store) connectLocked() {
	if s.client != nil {
		s.symWrite.Flush()
		s.client.Close()
	}

	// Spread flushes with jitter so parallel workers don't align.
	flush := uint(writeFlushMillis + rand.Intn(writeJitterMillis))
	opts := influxdb2.DefaultOptions().
		SetBatchSize(writeBatchSize).
		SetFlushInterval(flush).
		SetPrecision(time.Nanosecond).
		SetHTTPRequestTimeout(clientTimeoutMilli)

	s.client = influxdb2.NewClientWithOptions(s.cfg.URL, s.cfg.Token, opts)
	s.query = s.client.QueryAPI(s.cfg.Org)
	s.barWrite = s.client.WriteAPIBlocking(s.cfg.Org, s.cfg.Bucket)
	s.symWrite = s.client.WriteAPI(s.cfg.Org, s.cfg.SymbolBucket)
	s.lastPing = time.Time{}
}

// Bucket returns the market-data bucket name.
func (s *Store) Bucket() string { return s.cfg.Bucket }

// SymbolBucket returns the symbol-management bucket name.
func (s *Store) SymbolBucket() string { return s.cfg.SymbolBucket }

// Ping checks connectivity. Successful pings are cached for 60 seconds; a
// failed ping invalidates the cache and recreates the client.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	if time.Since(s.lastPing) < healthCacheTTL && !s.lastPing.IsZero() {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	s.mu.Unlock()

	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		s.connect()
		if err == nil {
			err = fmt.Errorf("influx ping: not ready")
		}
		return err
	}

	s.mu.Lock()
	s.lastPing = time.Now()
	s.mu.Unlock()
	return nil
}

// Query runs a Flux query with retry on transient errors.
func (s *Store) Query(ctx context.Context, flux string) (*api.QueryTableResult, error) {
	var res *api.QueryTableResult
	err := s.retry(ctx, "query", func() error {
		s.mu.Lock()
		q := s.query
		s.mu.Unlock()
		r, err := q.Query(ctx, flux)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

// WriteBarGroup writes one measurement's bars with the given tag columns,
// nanosecond precision, in the order given. Empty groups are skipped so
// re-runs with no new vendor data perform no writes.
func (s *Store) WriteBarGroup(ctx context.Context, measurement string, tags map[string]string, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	return s.retry(ctx, "write "+measurement, func() error {
		s.mu.Lock()
		w := s.barWrite
		s.mu.Unlock()

		for _, b := range bars {
			p := influxdb2.NewPoint(measurement, tags, map[string]interface{}{
				"open":   b.Open,
				"high":   b.High,
				"low":    b.Low,
				"close":  b.Close,
				"volume": b.Volume,
			}, b.TS)
			if err := w.WritePoint(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteSymbolPoint queues a symbol-management point on the batched write
// path (batch 5000, flush ~10s).
func (s *Store) WriteSymbolPoint(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	s.mu.Lock()
	w := s.symWrite
	s.mu.Unlock()
	w.WritePoint(influxdb2.NewPoint(measurement, tags, fields, ts))
}

// FlushSymbolWrites forces the batched symbol-management path to flush.
func (s *Store) FlushSymbolWrites() {
	s.mu.Lock()
	w := s.symWrite
	s.mu.Unlock()
	w.Flush()
}

// LatestBarTime probes the greatest stored timestamp for (symbol, timeframe)
// across its per-day measurements. Probe errors are treated as "no data
// found" and logged at debug, per the error-handling policy.
func (s *Store) LatestBarTime(ctx context.Context, symbol, tfCode string) (time.Time, bool) {
	pattern := fmt.Sprintf(`^ohlc_%s_\d{8}_%s$`, regexp.QuoteMeta(symbol), regexp.QuoteMeta(tfCode))
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement =~ /%s/ and r.symbol == %q)
  |> last()
  |> keep(columns: ["_time"])`, s.cfg.Bucket, pattern, symbol)

	res, err := s.Query(ctx, flux)
	if err != nil {
		slog.Debug("latest-timestamp probe failed, treating as no data",
			"symbol", symbol, "timeframe", tfCode, "err", err)
		return time.Time{}, false
	}
	defer res.Close()

	var latest time.Time
	found := false
	for res.Next() {
		ts := res.Record().Time()
		if ts.After(latest) {
			latest = ts
			found = true
		}
	}
	if res.Err() != nil {
		slog.Debug("latest-timestamp probe iteration failed, treating as no data",
			"symbol", symbol, "timeframe", tfCode, "err", res.Err())
		return time.Time{}, false
	}
	return latest.UTC(), found
}

// retry runs fn up to maxAttempts times with exponential backoff (5s base,
// doubling) on transient errors. A transient failure also recreates the
// client before the next attempt.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	delay := baseRetryDelay
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		log.Printf("[influx] %s failed (attempt %d/%d): %v, reconnecting and retrying in %s",
			op, attempt, maxAttempts, err, delay)
		s.connect()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("influx %s: retries exhausted: %w", op, err)
}

// Close flushes pending batched writes and shuts the client down.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.symWrite.Flush()
		s.client.Close()
		s.client = nil
	}
	log.Println("[influx] client closed")
}
