package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"dtn-ingestion/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes wires the WebSocket endpoint and the REST helpers onto mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, processStart time.Time) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] ws upgrade error: %v", err)
			return
		}
		hub.AddClient(conn)
	})

	// Missed envelopes for client gap backfill: ?symbol=AAPL&from=10&to=20
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.Header().Set("Content-Type", "application/json")

		symbol := r.URL.Query().Get("symbol")
		from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		if symbol == "" || from <= 0 || to < from {
			http.Error(w, `{"error":"symbol, from and to are required"}`, http.StatusBadRequest)
			return
		}

		envelopes := hub.ReplayRange(model.TickChannel(symbol), from, to)
		out := make([]json.RawMessage, len(envelopes))
		for i, e := range envelopes {
			out[i] = e
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol":    symbol,
			"envelopes": out,
			"seq":       hub.ChannelSeq(model.TickChannel(symbol)),
		})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.Header().Set("Content-Type", "application/json")

		kvOK := hub.KV.Ping(r.Context()) == nil
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"redis":      kvOK,
			"ws_clients": hub.ClientCount(),
			"uptime_sec": int64(time.Since(processStart).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
