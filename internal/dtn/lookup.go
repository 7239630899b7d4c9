package dtn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"dtn-ingestion/internal/calendar"
)

// Wire-format details of the vendor's lookup (history) port. Requests are
// CSV lines tagged with a request id; responses stream back as CSV rows
// carrying the same id, terminated by an !ENDMSG! marker.
const (
	lookupProtocol = "S,SET PROTOCOL,6.2\r\n"
	endMarker      = "!ENDMSG!"
	noDataMarker   = "!NO_DATA!"

	lookupDialTimeout = 10 * time.Second
	lookupReadTimeout = 60 * time.Second
)

// LookupClient is the production HistClient over the vendor's lookup port.
// One request is in flight at a time; the connection is re-dialed on error.
type LookupClient struct {
	addr string

	mu    sync.Mutex
	conn  net.Conn
	rd    *bufio.Reader
	reqID int
}

// NewLookupClient creates a client for host:port. The connection is
// established lazily on first request.
func NewLookupClient(host string, port int) *LookupClient {
	return &LookupClient{addr: net.JoinHostPort(host, strconv.Itoa(port))}
}

// RequestBarsInPeriod fetches interval bars for [start, end].
func (c *LookupClient) RequestBarsInPeriod(ctx context.Context, ticker string, intervalLen int, intervalType string, start, end time.Time, ascend bool) ([]IntradayBar, error) {
	req := fmt.Sprintf("HIT,%s,%d,%s,%s,,,,%s,%%d,,%s\r\n",
		ticker, intervalLen, lookupTime(start), lookupTime(end), direction(ascend), intervalType)

	rows, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bars %s: %w", ticker, err)
	}

	bars := make([]IntradayBar, 0, len(rows))
	for _, row := range rows {
		// timestamp, high, low, open, close, total volume, period volume, trades
		if len(row) < 7 {
			continue
		}
		date, usecs, err := parseLookupTimestamp(row[0])
		if err != nil {
			continue
		}
		bar := IntradayBar{
			Date:   date,
			TimeUS: usecs,
			HighP:  parseF(row[1]),
			LowP:   parseF(row[2]),
			OpenP:  parseF(row[3]),
			CloseP: parseF(row[4]),
		}
		if v, ok := parseI(row[5]); ok {
			bar.TotVlm, bar.HasTotVlm = v, true
		}
		if v, ok := parseI(row[6]); ok {
			bar.PrdVlm, bar.HasPrdVlm = v, true
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// RequestDailyData fetches the last numDays end-of-day bars.
func (c *LookupClient) RequestDailyData(ctx context.Context, ticker string, numDays int, ascend bool) ([]DailyBar, error) {
	req := fmt.Sprintf("HDX,%s,%d,%s,%%d,\r\n", ticker, numDays, direction(ascend))

	rows, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("daily %s: %w", ticker, err)
	}

	bars := make([]DailyBar, 0, len(rows))
	for _, row := range rows {
		// date, high, low, open, close, period volume, open interest
		if len(row) < 6 {
			continue
		}
		date, _, err := parseLookupTimestamp(row[0])
		if err != nil {
			continue
		}
		bar := DailyBar{
			Date:   date,
			HighP:  parseF(row[1]),
			LowP:   parseF(row[2]),
			OpenP:  parseF(row[3]),
			CloseP: parseF(row[4]),
		}
		if v, ok := parseI(row[5]); ok {
			bar.PrdVlm, bar.HasPrdVlm = v, true
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// RequestTicksInPeriod fetches raw trade prints for [start, end].
func (c *LookupClient) RequestTicksInPeriod(ctx context.Context, ticker string, start, end time.Time, ascend bool) ([]TickRecord, error) {
	req := fmt.Sprintf("HTT,%s,%s,%s,,,,%s,%%d,\r\n",
		ticker, lookupTime(start), lookupTime(end), direction(ascend))

	rows, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ticks %s: %w", ticker, err)
	}

	ticks := make([]TickRecord, 0, len(rows))
	for _, row := range rows {
		// timestamp, last, last size, total volume, bid, ask, ...
		if len(row) < 3 {
			continue
		}
		date, usecs, err := parseLookupTimestamp(row[0])
		if err != nil {
			continue
		}
		size, _ := parseI(row[2])
		ticks = append(ticks, TickRecord{
			Date:   date,
			TimeUS: usecs,
			Last:   parseF(row[1]),
			LastSz: size,
		})
	}
	return ticks, nil
}

// Close shuts the connection down.
func (c *LookupClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.rd = nil
		return err
	}
	return nil
}

// roundTrip sends one request (reqTemplate carries a %d slot for the request
// id) and collects its data rows. A no-data response is an empty slice with
// a nil error.
func (c *LookupClient) roundTrip(ctx context.Context, reqTemplate string) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}

	c.reqID++
	id := strconv.Itoa(c.reqID)
	req := fmt.Sprintf(reqTemplate, c.reqID)

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Now().Add(lookupReadTimeout))
	}

	if _, err := c.conn.Write([]byte(req)); err != nil {
		c.drop()
		return nil, err
	}

	var rows [][]string
	for {
		line, err := c.rd.ReadString('\n')
		if err != nil {
			c.drop()
			return nil, err
		}
		fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
		if len(fields) < 2 || fields[0] != id {
			continue // row for another request or a system message
		}

		switch fields[1] {
		case endMarker:
			return rows, nil
		case "E":
			if len(fields) > 2 && strings.Contains(fields[2], noDataMarker) {
				continue // the end marker still follows
			}
			c.consumeToEnd(id)
			return nil, fmt.Errorf("lookup error: %s", strings.Join(fields[2:], ","))
		default:
			rows = append(rows, fields[1:])
		}
	}
}

func (c *LookupClient) ensureConn(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: lookupDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("lookup dial %s: %w", c.addr, err)
	}
	if _, err := conn.Write([]byte(lookupProtocol)); err != nil {
		conn.Close()
		return err
	}
	c.conn = conn
	c.rd = bufio.NewReader(conn)
	return nil
}

func (c *LookupClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.rd = nil
	}
}

// consumeToEnd drains remaining rows of a failed request so the connection
// stays usable.
func (c *LookupClient) consumeToEnd(id string) {
	for {
		line, err := c.rd.ReadString('\n')
		if err != nil {
			c.drop()
			return
		}
		fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
		if len(fields) >= 2 && fields[0] == id && fields[1] == endMarker {
			return
		}
	}
}

// lookupTime formats a request bound as the wire expects: Eastern wall time.
// Callers pass instants in any location; the conversion happens here so the
// same instant always encodes the same vendor window.
func lookupTime(t time.Time) string {
	return t.In(calendar.Eastern).Format("20060102 150405")
}

func direction(ascend bool) string {
	if ascend {
		return "1"
	}
	return "0"
}

// parseLookupTimestamp splits "2006-01-02 15:04:05[.000000]" (or a bare
// date) into a date component and microseconds since midnight.
func parseLookupTimestamp(s string) (time.Time, int64, error) {
	datePart := s
	timePart := ""
	if i := strings.IndexByte(s, ' '); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	}

	date, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return time.Time{}, 0, err
	}
	if timePart == "" {
		return date, 0, nil
	}

	if len(timePart) < 8 {
		return time.Time{}, 0, fmt.Errorf("bad time %q", timePart)
	}
	clock, err := time.Parse("15:04:05", timePart[:8])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("bad time %q", timePart)
	}
	usecs := int64(clock.Hour()*3600+clock.Minute()*60+clock.Second()) * 1_000_000
	if len(timePart) > 9 && timePart[8] == '.' {
		frac := timePart[9:]
		for len(frac) < 6 {
			frac += "0"
		}
		if f, err := strconv.ParseInt(frac[:6], 10, 64); err == nil {
			usecs += f
		}
	}
	return date, usecs, nil
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseI(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
