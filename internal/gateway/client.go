package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dtn-ingestion/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	catchUpMax = 5000 // ticks per symbol on catch-up
)

// Client is a single WebSocket peer with a per-symbol subscription set.
// An empty set means the client receives every symbol.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	subMu   sync.RWMutex
	symbols map[string]bool
}

// subscribeMsg is the client -> server control message.
type subscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	CatchUp bool     `json:"catch_up"`
	Ping    int64    `json:"ping"`
}

func (c *Client) wantsSymbol(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.symbols) == 0 {
		return true
	}
	return c.symbols[symbol]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Coalesce queued envelopes into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[tickserver] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.handleSubscribe(msg)
		case "UNSUBSCRIBE":
			c.handleUnsubscribe(msg)
		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.hub.deliver(c, pong)
			}
		}
	}
}

func (c *Client) handleSubscribe(msg subscribeMsg) {
	c.subMu.Lock()
	for _, s := range msg.Symbols {
		c.symbols[s] = true
	}
	c.subMu.Unlock()
	log.Printf("[tickserver] client subscribed: %v (catch_up=%v)", msg.Symbols, msg.CatchUp)

	if msg.CatchUp {
		go c.sendCatchUp(msg.Symbols)
	}
}

func (c *Client) handleUnsubscribe(msg subscribeMsg) {
	c.subMu.Lock()
	for _, s := range msg.Symbols {
		delete(c.symbols, s)
	}
	c.subMu.Unlock()
	log.Printf("[tickserver] client unsubscribed: %v", msg.Symbols)
}

// sendCatchUp streams each symbol's buffered ticks as one snapshot message,
// so the client has the trailing session before live envelopes arrive.
func (c *Client) sendCatchUp(symbols []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, symbol := range symbols {
		raw, err := c.hub.KV.LRange(ctx, model.TickBufferKey(symbol), -catchUpMax, -1)
		if err != nil {
			log.Printf("[tickserver] catch-up for %s failed: %v", symbol, err)
			continue
		}

		ticks := make([]json.RawMessage, 0, len(raw))
		for _, entry := range raw {
			ticks = append(ticks, json.RawMessage(entry))
		}
		snapshot, err := json.Marshal(map[string]interface{}{
			"type":   "snapshot",
			"symbol": symbol,
			"ticks":  ticks,
			"seq":    c.hub.ChannelSeq(model.TickChannel(symbol)),
		})
		if err != nil {
			continue
		}
		if !c.hub.deliver(c, snapshot) {
			log.Printf("[tickserver] catch-up for %s dropped: client gone or queue full", symbol)
		}
	}
}
