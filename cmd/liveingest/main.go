// cmd/liveingest — Live tick ingestion service.
//
// Keeps the vendor level-1 watch set converged on the desired symbol set,
// backfills each symbol's recent-tick buffer at subscription time and fans
// live trades out to per-symbol broadcast channels.
//
// Set SIM_WS_URL to source ticks from the simulated WebSocket feed instead
// of the vendor's level-1 port.
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
	"dtn-ingestion/internal/dtn/sim"
	"dtn-ingestion/internal/ingest/live"
	"dtn-ingestion/internal/logger"
	"dtn-ingestion/internal/metrics"
	"dtn-ingestion/internal/reconcile"
	"dtn-ingestion/internal/registry"
	"dtn-ingestion/internal/store/influx"
	redisstore "dtn-ingestion/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("liveingest", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[liveingest] starting...")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	// ---- Health & metrics ----
	// Served before the stores come up so a connect loop is observable.
	health := metrics.NewHealthStatus("liveingest")
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
		log.Printf("[liveingest] shutdown before redis became available: %v", err)
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

	// ---- Vendor clients ----
	var quotes dtn.QuoteClient
	if simURL := os.Getenv("SIM_WS_URL"); simURL != "" {
		log.Printf("[liveingest] *** simulated feed: %s ***", simURL)
		feed, err := sim.New(sim.Config{URL: simURL})
		if err != nil {
			log.Fatalf("[liveingest] sim feed init failed: %v", err)
		}
		quotes = feed
	} else {
		quotes = dtn.NewQuoteFeed(dtn.QuoteFeedConfig{
			Host: cfg.FeedHost,
			Port: cfg.FeedQuotePort,
		})
	}
	defer quotes.Close()
	health.Set("feed", true)

	hist := dtn.NewLookupClient(cfg.FeedHost, cfg.FeedHistPort)
	defer hist.Close()

	// ---- Ingestor & reconciler ----
	ing := live.New(quotes, hist, live.NewRedisSink(kv))
	ing.Workers = cfg.LiveWorkers

	symbols := registry.NewSymbolRegistry(ts, kv)
	schedules := registry.NewScheduleRegistry(kv)
	control := registry.NewControl(symbols, schedules, cfg.DefaultBackfillMinutes)

	go func() {
		if err := ing.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[liveingest] fan-out stopped: %v", err)
		}
	}()

	rec := reconcile.New(control, ing, kv)
	go func() {
		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[liveingest] reconciler stopped: %v", err)
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
			}
		}
	}()

	log.Printf("[liveingest] ready (%d workers, default backfill %dm)",
		cfg.LiveWorkers, cfg.DefaultBackfillMinutes)

	<-ctx.Done()
	log.Println("[liveingest] shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Println("[liveingest] shutdown complete.")
}
