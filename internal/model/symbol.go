package model

import (
	"fmt"
	"strings"
	"time"
)

// Exchanges recognized by the ingestion pipeline.
const (
	ExchangeNYSE   = "NYSE"
	ExchangeNASDAQ = "NASDAQ"
	ExchangeCME    = "CME"
	ExchangeEUREX  = "EUREX"
)

// Security kinds recognized by the ingestion pipeline.
const (
	SecurityStock  = "STOCK"
	SecurityFuture = "FUTURE"
	SecurityOption = "OPTION"
	SecurityIndex  = "INDEX"
	SecurityForex  = "FOREX"
	SecurityCrypto = "CRYPTO"
)

var validExchanges = map[string]bool{
	ExchangeNYSE:   true,
	ExchangeNASDAQ: true,
	ExchangeCME:    true,
	ExchangeEUREX:  true,
}

var validSecurityTypes = map[string]bool{
	SecurityStock:  true,
	SecurityFuture: true,
	SecurityOption: true,
	SecurityIndex:  true,
	SecurityForex:  true,
	SecurityCrypto: true,
}

// SymbolRef identifies a symbol in the desired set: (ticker, exchange).
type SymbolRef struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Symbol is a tradeable instrument with its per-symbol ingestion parameters.
// Identity is (Symbol, Exchange). Deletion is soft: Active flips to false.
type Symbol struct {
	Symbol          string     `json:"symbol"`
	Exchange        string     `json:"exchange"`
	SecurityType    string     `json:"security_type"`
	Description     string     `json:"description"`
	Active          bool       `json:"active"`
	HistoricalDays  int        `json:"historical_days"`  // 1..365
	BackfillMinutes int        `json:"backfill_minutes"` // 0..1440
	AddedBy         string     `json:"added_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastIngestion   *time.Time `json:"last_ingestion,omitempty"`
}

// Ref returns the desired-set reference for this symbol.
func (s *Symbol) Ref() SymbolRef {
	return SymbolRef{Symbol: s.Symbol, Exchange: s.Exchange}
}

// Measurement returns the symbol-management measurement this symbol lives in:
// symbol_<EXCHANGE>_<KIND>.
func (s *Symbol) Measurement() string {
	return "symbol_" + s.Exchange + "_" + s.SecurityType
}

// Validate checks identity, enums and parameter bounds.
func (s *Symbol) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("symbol: ticker is required")
	}
	if !validExchanges[s.Exchange] {
		return fmt.Errorf("symbol %s: unknown exchange %q", s.Symbol, s.Exchange)
	}
	if !validSecurityTypes[s.SecurityType] {
		return fmt.Errorf("symbol %s: unknown security type %q", s.Symbol, s.SecurityType)
	}
	if s.HistoricalDays < 1 || s.HistoricalDays > 365 {
		return fmt.Errorf("symbol %s: historical_days %d out of range 1..365", s.Symbol, s.HistoricalDays)
	}
	if s.BackfillMinutes < 0 || s.BackfillMinutes > 1440 {
		return fmt.Errorf("symbol %s: backfill_minutes %d out of range 0..1440", s.Symbol, s.BackfillMinutes)
	}
	return nil
}

// ValidExchange reports whether e is one of the recognized exchanges.
func ValidExchange(e string) bool { return validExchanges[e] }

// ValidSecurityType reports whether st is one of the recognized kinds.
func ValidSecurityType(st string) bool { return validSecurityTypes[st] }
