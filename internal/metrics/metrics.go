// Package metrics exposes the pipeline's Prometheus instrumentation and the
// shared health endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BarsWritten counts stored OHLC bars by timeframe.
	BarsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtn_bars_written_total",
		Help: "OHLC bars written to the time-series store.",
	}, []string{"timeframe"})

	// IngestErrors counts failed (symbol, timeframe) ingestion units.
	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtn_ingest_errors_total",
		Help: "Historical ingestion unit failures.",
	}, []string{"stage"})

	// VendorRequests counts historical lookups against the vendor.
	VendorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dtn_vendor_requests_total",
		Help: "Historical data requests sent to the vendor.",
	}, []string{"kind"})

	// TicksPublished counts live ticks fanned out to subscribers.
	TicksPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtn_ticks_published_total",
		Help: "Live ticks published to the broadcast channels.",
	})

	// TicksBackfilled counts ticks loaded into recent-tick buffers.
	TicksBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dtn_ticks_backfilled_total",
		Help: "Ticks written during subscription backfill.",
	})

	// WatchedSymbols tracks the size of the live watch set.
	WatchedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dtn_watched_symbols",
		Help: "Symbols currently subscribed on the quote feed.",
	})

	// WriteDuration observes time-series write latency per measurement group.
	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dtn_store_write_duration_seconds",
		Help:    "Latency of bar group writes.",
		Buckets: prometheus.DefBuckets,
	})
)

// HealthStatus aggregates component health for the /healthz endpoint.
type HealthStatus struct {
	mu      sync.RWMutex
	service string
	checks  map[string]bool
}

func NewHealthStatus(service string) *HealthStatus {
	return &HealthStatus{service: service, checks: make(map[string]bool)}
}

// Set records one component's health.
func (h *HealthStatus) Set(component string, healthy bool) {
	h.mu.Lock()
	h.checks[component] = healthy
	h.mu.Unlock()
}

// Healthy reports whether every registered component is up.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.checks {
		if !ok {
			return false
		}
	}
	return true
}

func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	resp := struct {
		Service string          `json:"service"`
		Status  string          `json:"status"`
		Checks  map[string]bool `json:"checks"`
	}{Service: h.service, Status: "ok", Checks: make(map[string]bool, len(h.checks))}
	for k, v := range h.checks {
		resp.Checks[k] = v
	}
	h.mu.RUnlock()

	code := http.StatusOK
	if !h.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// Server serves /metrics and /healthz.
type Server struct {
	srv    *http.Server
	health *HealthStatus
}

func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux},
		health: health,
	}
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
