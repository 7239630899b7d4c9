// cmd/admin — Control-plane HTTP API.
//
// Manages the symbol catalog, per-symbol cron schedules, the desired live
// symbol set and the global system config. Mutations publish change
// notifications so the running ingestors pick them up immediately.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dtn-ingestion/config"
	"dtn-ingestion/internal/admin"
	"dtn-ingestion/internal/logger"
	"dtn-ingestion/internal/registry"
	"dtn-ingestion/internal/store/influx"
	redisstore "dtn-ingestion/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("admin", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[admin] starting...")

	cfg := config.Load()
	addr := os.Getenv("ADMIN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; cancel() }()

	kv, err := redisstore.NewWithRetry(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, 5*time.Second)
	if err != nil {
		log.Printf("[admin] shutdown before redis became available: %v", err)
		return
	}
	defer kv.Close()

	ts := influx.New(influx.Config{
		URL:          cfg.InfluxURL,
		Token:        cfg.InfluxToken,
		Org:          cfg.InfluxOrg,
		Bucket:       cfg.InfluxBucket,
		SymbolBucket: cfg.InfluxSymbolBucket,
	})
	defer ts.Close()

	symbols := registry.NewSymbolRegistry(ts, kv)
	schedules := registry.NewScheduleRegistry(kv)
	api := admin.NewServer(symbols, schedules)

	srv := &http.Server{Addr: addr, Handler: api.Router()}
	go func() {
		log.Printf("[admin] listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[admin] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[admin] shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	ts.FlushSymbolWrites()

	log.Println("[admin] shutdown complete.")
}
