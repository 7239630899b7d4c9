// Package sim provides a WebSocket quote-feed client implementing
// dtn.QuoteClient against a plain-JSON tick server. The expected wire format
// is:
//
//	{"kind":"trade","symbol":"AAPL","most_recent_trade":189.5,"most_recent_trade_size":100}
//
// It is a drop-in replacement for the production vendor client — useful for
// offline runs and gateway testing without a vendor connection.
package sim

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"sync"
	"time"

	"dtn-ingestion/internal/dtn"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the simulated quote feed.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/feed"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// Buffer is the decoded message channel capacity. Defaults to 4096.
	Buffer int
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.Buffer == 0 {
		c.Buffer = 4096
	}
}

type wireMessage struct {
	Kind                string  `json:"kind"`
	Symbol              string  `json:"symbol"`
	MostRecentTrade     float64 `json:"most_recent_trade"`
	MostRecentTradeSize int64   `json:"most_recent_trade_size"`
}

// Feed is a reconnecting WebSocket quote client. Watched symbols are tracked
// locally so messages for unwatched symbols are filtered before delivery and
// re-subscription survives reconnects.
type Feed struct {
	cfg    Config
	msgCh  chan dtn.QuoteMessage
	cancel context.CancelFunc

	mu      sync.Mutex
	watched map[string]bool
	conn    *websocket.Conn

	// OnReconnect is called each time a reconnection happens.
	OnReconnect func()
}

// New creates a Feed and starts its reader goroutine.
// Returns an error if the URL is unparseable.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		cfg:     cfg,
		msgCh:   make(chan dtn.QuoteMessage, cfg.Buffer),
		cancel:  cancel,
		watched: make(map[string]bool),
	}
	go f.run(ctx)
	return f, nil
}

// TradesWatch subscribes the symbol. The watch request is re-sent after every
// reconnect.
func (f *Feed) TradesWatch(symbol string) error {
	f.mu.Lock()
	f.watched[symbol] = true
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		return conn.WriteJSON(map[string]string{"action": "watch", "symbol": symbol})
	}
	return nil
}

// Unwatch removes the symbol's subscription.
func (f *Feed) Unwatch(symbol string) error {
	f.mu.Lock()
	delete(f.watched, symbol)
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		return conn.WriteJSON(map[string]string{"action": "unwatch", "symbol": symbol})
	}
	return nil
}

// Messages returns the decoded message stream.
func (f *Feed) Messages() <-chan dtn.QuoteMessage { return f.msgCh }

// Close tears down the connection and closes the message channel.
func (f *Feed) Close() error {
	f.cancel()
	return nil
}

// run reconnects with exponential backoff until Close.
func (f *Feed) run(ctx context.Context) {
	defer close(f.msgCh)
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := f.runOnce(ctx)
		if err == nil {
			return // cancelled cleanly
		}

		log.Printf("[sim] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel.
func (f *Feed) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[sim] connected to %s", f.cfg.URL)

	// Replay the watch set on every (re)connect.
	f.mu.Lock()
	f.conn = conn
	symbols := make([]string, 0, len(f.watched))
	for s := range f.watched {
		symbols = append(symbols, s)
	}
	f.mu.Unlock()
	for _, s := range symbols {
		if err := conn.WriteJSON(map[string]string{"action": "watch", "symbol": s}); err != nil {
			log.Printf("[sim] re-watch %s failed: %v", s, err)
		}
	}

	// Async context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.conn = nil
			f.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var wm wireMessage
		if err := json.Unmarshal(raw, &wm); err != nil {
			log.Printf("[sim] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if wm.Symbol == "" {
			continue
		}

		f.mu.Lock()
		watched := f.watched[wm.Symbol]
		f.mu.Unlock()
		if !watched {
			continue
		}

		kind := wm.Kind
		if kind == "" {
			kind = dtn.KindTrade
		}
		msg := dtn.QuoteMessage{
			Kind:                kind,
			Symbol:              wm.Symbol,
			MostRecentTrade:     wm.MostRecentTrade,
			MostRecentTradeSize: wm.MostRecentTradeSize,
		}

		select {
		case f.msgCh <- msg:
		default:
			log.Println("[sim] message channel full, dropping message")
		}
	}
}
