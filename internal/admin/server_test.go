package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSplitScheduleID(t *testing.T) {
	cases := []struct {
		id          string
		symbol, typ string
		ok          bool
	}{
		{"AAPL_historical", "AAPL", "historical", true},
		{"AAPL_live", "AAPL", "live", true},
		{"BRK_B_historical", "BRK_B", "historical", true},
		{"AAPL", "", "", false},
		{"AAPL_nightly", "", "", false},
		{"_historical", "", "", false},
		{"AAPL_", "", "", false},
	}

	for _, tc := range cases {
		symbol, typ, ok := splitScheduleID(tc.id)
		if symbol != tc.symbol || typ != tc.typ || ok != tc.ok {
			t.Errorf("splitScheduleID(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.id, symbol, typ, ok, tc.symbol, tc.typ, tc.ok)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %s", ct)
	}
}

func TestSymbolsEndpoint_MethodNotAllowed(t *testing.T) {
	s := NewServer(nil, nil)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/symbols", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
