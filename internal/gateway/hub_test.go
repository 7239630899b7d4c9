package gateway

import "testing"

func newHubClient(h *Hub) *Client {
	c := &Client{conn: nil, send: make(chan []byte, 1), hub: h, symbols: make(map[string]bool)}
	h.clients[c] = true
	return c
}

func TestDeliver_RegisteredClient(t *testing.T) {
	h := NewHub(nil)
	c := newHubClient(h)

	if !h.deliver(c, []byte("envelope")) {
		t.Fatal("deliver to a registered client failed")
	}
	if got := <-c.send; string(got) != "envelope" {
		t.Errorf("queued = %q", got)
	}
}

func TestDeliver_AfterRemoveIsRefused(t *testing.T) {
	h := NewHub(nil)
	c := newHubClient(h)
	h.RemoveClient(c)

	// A catch-up goroutine finishing after the disconnect must not send on
	// the closed queue.
	if h.deliver(c, []byte("late")) {
		t.Fatal("deliver to a removed client must be refused")
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue should be closed and drained")
	}
}

func TestRemoveClient_SecondCallIsNoop(t *testing.T) {
	h := NewHub(nil)
	c := newHubClient(h)
	h.RemoveClient(c)
	h.RemoveClient(c)
	if h.ClientCount() != 0 {
		t.Errorf("clients = %d, want 0", h.ClientCount())
	}
}
