// Package gateway fans live ticks out to WebSocket clients. The hub
// subscribes to every per-symbol broadcast channel, wraps each payload in a
// sequenced envelope and delivers it to clients filtered by their symbol
// subscriptions. New clients can catch up from the rolling tick buffers.
package gateway

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dtn-ingestion/internal/store/redis"
)

const (
	channelPrefix    = "live_ticks:"
	replayPerChannel = 500
)

type latestEntry struct {
	Data []byte
	TS   time.Time
	Seq  int64
}

// Hub manages WebSocket clients and the tick pub-sub fan-out.
type Hub struct {
	KV *redis.KV

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
}

func NewHub(kv *redis.KV) *Hub {
	return &Hub{
		KV:          kv,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// Run consumes the tick broadcast pattern until the context ends.
func (h *Hub) Run(ctx context.Context) {
	sub := h.KV.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	log.Printf("[tickserver] subscribed to %s*", channelPrefix)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Broadcast wraps a tick payload in a sequenced envelope and delivers it to
// every client subscribed to the channel's symbol. The envelope is built by
// hand; this is the hot path and the payload is already JSON.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	seq := h.channelSeqs[channel]
	h.mu.Unlock()

	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')

	h.mu.Lock()
	h.latest[channel] = latestEntry{Data: buf, TS: now, Seq: seq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayPerChannel)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(seq, buf)

	symbol := SymbolFromChannel(channel)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wantsSymbol(symbol) {
			continue
		}
		select {
		case client.send <- buf:
		default: // slow client, drop
		}
	}
}

// SymbolFromChannel extracts the ticker from a broadcast channel name.
func SymbolFromChannel(channel string) string {
	return strings.TrimPrefix(channel, channelPrefix)
}

// AddClient registers an upgraded connection and starts its pumps.
func (h *Hub) AddClient(conn *websocket.Conn) *Client {
	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		symbols: make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[tickserver] ws client connected (%d total)", count)
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient drops a client and closes its send queue. The close happens
// under the hub lock so it cannot race a guarded deliver.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// deliver queues an envelope for a client if it is still registered. Sends
// from goroutines outside the broadcast path must go through here; a direct
// send can hit a channel RemoveClient already closed.
func (h *Hub) deliver(c *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelSeq returns the latest sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ReplayRange returns buffered envelopes for a channel with sequence numbers
// in [from, to], for client gap backfill.
func (h *Hub) ReplayRange(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}
