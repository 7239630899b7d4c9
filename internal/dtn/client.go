// Package dtn defines the boundary to the upstream market-data vendor.
// Connection bring-up and byte-level framing belong to the client
// implementation behind these interfaces; the ingestion engine only sees
// typed records and decoded quote messages.
package dtn

import (
	"context"
	"time"
)

// Message kinds delivered by the quote client.
const (
	KindTrade   = "trade"
	KindSummary = "summary"
)

// QuoteMessage is a decoded level-1 message for a watched symbol.
type QuoteMessage struct {
	Kind                string
	Symbol              string
	MostRecentTrade     float64
	MostRecentTradeSize int64
}

// HistClient serves historical lookups. A period with no data returns an
// empty slice and a nil error — "no data" is never an error condition.
type HistClient interface {
	// RequestBarsInPeriod fetches interval bars for [start, end] in ascending
	// or descending timestamp order. intervalType is "s" for second-based
	// intervals.
	RequestBarsInPeriod(ctx context.Context, ticker string, intervalLen int, intervalType string, start, end time.Time, ascend bool) ([]IntradayBar, error)

	// RequestDailyData fetches the last numDays end-of-day bars.
	RequestDailyData(ctx context.Context, ticker string, numDays int, ascend bool) ([]DailyBar, error)

	// RequestTicksInPeriod fetches raw trade prints for [start, end].
	RequestTicksInPeriod(ctx context.Context, ticker string, start, end time.Time, ascend bool) ([]TickRecord, error)
}

// QuoteClient maintains the live level-1 subscription set. The client owns
// its own I/O goroutine and delivers decoded messages on Messages; consumers
// must drain the channel promptly and do their work elsewhere.
type QuoteClient interface {
	// TradesWatch subscribes the symbol to trade updates.
	TradesWatch(symbol string) error

	// Unwatch removes the symbol's subscription.
	Unwatch(symbol string) error

	// Messages returns the decoded message stream. The channel is closed
	// when the client shuts down.
	Messages() <-chan QuoteMessage

	// Close tears down the connection and closes the message channel.
	Close() error
}
