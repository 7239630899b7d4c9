// cmd/histingest — Historical OHLC ingestion service.
//
// Fills per-symbol, per-day, per-timeframe bar partitions in the time-series
// store from the vendor's lookup port. Runs one catch-up pass at boot (when
// the market is closed), then hands control to the cron plane: per-symbol
// schedules plus the global nightly pass, all in Eastern time.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dtn-ingestion/config"
	"dtn-ingestion/internal/dtn"
	"dtn-ingestion/internal/ingest/historical"
	"dtn-ingestion/internal/logger"
	"dtn-ingestion/internal/metrics"
	"dtn-ingestion/internal/registry"
	"dtn-ingestion/internal/sched"
	"dtn-ingestion/internal/store/influx"
	redisstore "dtn-ingestion/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("histingest", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[histingest] starting...")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	// ---- Health & metrics ----
	// Served before the stores come up so a connect loop is observable.
	health := metrics.NewHealthStatus("histingest")
	health.Set("redis", false)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Stores ----
	kv, err := redisstore.NewWithRetry(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, 5*time.Second)
	if err != nil {
		log.Printf("[histingest] shutdown before redis became available: %v", err)
		return
	}
	defer kv.Close()
	health.Set("redis", true)

	ts := influx.New(influx.Config{
		URL:          cfg.InfluxURL,
		Token:        cfg.InfluxToken,
		Org:          cfg.InfluxOrg,
		Bucket:       cfg.InfluxBucket,
		SymbolBucket: cfg.InfluxSymbolBucket,
	})
	defer ts.Close()
	health.Set("influx", ts.Ping(ctx) == nil)

	// ---- Vendor lookup client ----
	hist := dtn.NewLookupClient(cfg.FeedHost, cfg.FeedHistPort)
	defer hist.Close()

	// ---- Registries & ingestor ----
	symbols := registry.NewSymbolRegistry(ts, kv)
	schedules := registry.NewScheduleRegistry(kv)

	ing := historical.New(hist, ts, symbols)
	ing.Intervals = schedules
	if sysCfg, err := schedules.SystemConfig(ctx); err == nil {
		ing.TimeframeDays = sysCfg.TimeframesToFetch
	}

	// ---- Boot-time catch-up pass ----
	go func() {
		if err := ing.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[histingest] boot pass failed: %v", err)
		}
		ts.FlushSymbolWrites()
	}()

	// ---- Cron plane ----
	scheduler := sched.New(schedules, symbols, ing, kv)
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[histingest] scheduler stopped: %v", err)
		}
	}()

	// ---- Periodic liveness ----
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.Set("redis", kv.Ping(ctx) == nil)
				health.Set("influx", ts.Ping(ctx) == nil)
			}
		}
	}()

	log.Printf("[histingest] ready (global pass %02d:%02d ET)", cfg.ScheduleHour, cfg.ScheduleMinute)

	<-ctx.Done()
	log.Println("[histingest] shutdown signal received, cleaning up...")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[histingest] shutdown complete.")
}
