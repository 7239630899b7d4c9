package model

import "encoding/json"

// Tick is a single live or backfilled trade observation. Timestamp is UTC
// epoch seconds with fractional precision. Volume zero marks a summary tick.
type Tick struct {
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp float64 `json:"timestamp"`
}

// JSON returns the JSON-encoded tick (errors ignored for hot-path usage).
func (t Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// KV keys and pub-sub channels for the tick plane.

// TickBufferKey is the recent-tick buffer list for a symbol (24h TTL).
func TickBufferKey(symbol string) string { return "intraday_ticks:" + symbol }

// TickChannel is the live broadcast pub-sub channel for a symbol.
func TickChannel(symbol string) string { return "live_ticks:" + symbol }

// SymbolCacheKey is the per-symbol JSON cache entry (24h TTL, cache only).
func SymbolCacheKey(symbol string) string { return "symbol:" + symbol }

// Well-known control-plane keys and channels.
const (
	DesiredSymbolsKey    = "dtn:ingestion:symbols"
	SymbolUpdatesChannel = "dtn:ingestion:symbol_updates"
	SystemConfigKey      = "dtn:system:config"
	ConfigUpdatesChannel = "dtn:system:config_updates"

	SymbolsUpdatedPayload = "symbols_updated"
	ConfigUpdatedPayload  = "config_updated"

	// TickBufferTTLSeconds is how long recent-tick buffers and symbol cache
	// entries live.
	TickBufferTTLSeconds = 86400
)
