package dtn

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level-1 wire format: one CSV line per message. "Q," prefixes trade
// updates, "P," summary snapshots; the field layout is pinned with a
// SELECT UPDATE FIELDS command at connect time.
const (
	quoteProtocol     = "S,SET PROTOCOL,6.2\r\n"
	quoteUpdateFields = "S,SELECT UPDATE FIELDS,Symbol,Most Recent Trade,Most Recent Trade Size\r\n"

	quoteDialTimeout = 10 * time.Second
	quoteBuffer      = 8192
)

// QuoteFeedConfig configures the production level-1 client.
type QuoteFeedConfig struct {
	Host string
	Port int

	// ReconnectDelay is the initial backoff. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *QuoteFeedConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// QuoteFeed is a reconnecting level-1 client implementing QuoteClient. The
// watch set is tracked locally and replayed after every reconnect.
type QuoteFeed struct {
	cfg    QuoteFeedConfig
	msgCh  chan QuoteMessage
	cancel context.CancelFunc

	mu      sync.Mutex
	watched map[string]bool
	conn    net.Conn

	// OnReconnect is called each time a reconnection happens.
	OnReconnect func()
}

// NewQuoteFeed creates a QuoteFeed and starts its reader goroutine.
func NewQuoteFeed(cfg QuoteFeedConfig) *QuoteFeed {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	f := &QuoteFeed{
		cfg:     cfg,
		msgCh:   make(chan QuoteMessage, quoteBuffer),
		cancel:  cancel,
		watched: make(map[string]bool),
	}
	go f.run(ctx)
	return f
}

// TradesWatch subscribes the symbol to trade updates.
func (f *QuoteFeed) TradesWatch(symbol string) error {
	f.mu.Lock()
	f.watched[symbol] = true
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		_, err := conn.Write([]byte("t" + symbol + "\r\n"))
		return err
	}
	return nil
}

// Unwatch removes the symbol's subscription.
func (f *QuoteFeed) Unwatch(symbol string) error {
	f.mu.Lock()
	delete(f.watched, symbol)
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		_, err := conn.Write([]byte("r" + symbol + "\r\n"))
		return err
	}
	return nil
}

// Messages returns the decoded message stream.
func (f *QuoteFeed) Messages() <-chan QuoteMessage { return f.msgCh }

// Close tears down the connection and closes the message channel.
func (f *QuoteFeed) Close() error {
	f.cancel()
	return nil
}

func (f *QuoteFeed) run(ctx context.Context) {
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
			return
		}

		log.Printf("[quote] disconnected (%v), reconnecting in %s...", err, delay)
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

func (f *QuoteFeed) runOnce(ctx context.Context) error {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	d := net.Dialer{Timeout: quoteDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(quoteProtocol + quoteUpdateFields)); err != nil {
		return err
	}
	log.Printf("[quote] connected to %s", addr)

	// Replay the watch set on every (re)connect.
	f.mu.Lock()
	f.conn = conn
	symbols := make([]string, 0, len(f.watched))
	for s := range f.watched {
		symbols = append(symbols, s)
	}
	f.mu.Unlock()
	for _, s := range symbols {
		if _, err := conn.Write([]byte("t" + s + "\r\n")); err != nil {
			log.Printf("[quote] re-watch %s failed: %v", s, err)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\n')
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

		msg, ok := parseQuoteLine(strings.TrimRight(line, "\r\n"))
		if !ok {
			continue
		}

		f.mu.Lock()
		watched := f.watched[msg.Symbol]
		f.mu.Unlock()
		if !watched {
			continue
		}

		select {
		case f.msgCh <- msg:
		default:
			log.Println("[quote] message channel full, dropping message")
		}
	}
}

// parseQuoteLine decodes one level-1 line into a QuoteMessage. Lines other
// than trade updates and summaries (system messages, timestamps) are
// skipped.
func parseQuoteLine(line string) (QuoteMessage, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return QuoteMessage{}, false
	}

	var kind string
	switch fields[0] {
	case "Q":
		kind = KindTrade
	case "P":
		kind = KindSummary
	default:
		return QuoteMessage{}, false
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return QuoteMessage{}, false
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)

	return QuoteMessage{
		Kind:                kind,
		Symbol:              fields[1],
		MostRecentTrade:     price,
		MostRecentTradeSize: size,
	}, true
}

var _ QuoteClient = (*QuoteFeed)(nil)
var _ HistClient = (*LookupClient)(nil)

// String implements fmt.Stringer for logging.
func (m QuoteMessage) String() string {
	return fmt.Sprintf("%s %s %.4f x%d", m.Kind, m.Symbol, m.MostRecentTrade, m.MostRecentTradeSize)
}
