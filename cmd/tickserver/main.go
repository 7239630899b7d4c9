// cmd/tickserver — WebSocket tick fan-out server.
//
// Bridges the per-symbol broadcast channels to WebSocket clients. Clients
// subscribe to symbols over the socket and can catch up from the rolling
// 24h tick buffers; missed envelopes are also reachable over REST.
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
	"dtn-ingestion/internal/gateway"
	"dtn-ingestion/internal/logger"
	redisstore "dtn-ingestion/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("tickserver", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	log.Println("[tickserver] starting...")

	cfg := config.Load()
	addr := os.Getenv("TICKSERVER_ADDR")
	if addr == "" {
		addr = ":8090"
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
		log.Printf("[tickserver] shutdown before redis became available: %v", err)
		return
	}
	defer kv.Close()

	hub := gateway.NewHub(kv)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, time.Now())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("[tickserver] listening on %s (ws://localhost%s/ws)", addr, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[tickserver] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[tickserver] shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Println("[tickserver] shutdown complete.")
}
