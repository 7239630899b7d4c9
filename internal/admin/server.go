// Package admin serves the control-plane HTTP API: symbol catalog CRUD,
// schedule management, the desired live set and the global system config.
package admin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"dtn-ingestion/internal/model"
	"dtn-ingestion/internal/registry"
	"dtn-ingestion/internal/store/redis"
)

// Server holds the registries the API mutates.
type Server struct {
	Symbols   *registry.SymbolRegistry
	Schedules *registry.ScheduleRegistry
}

func NewServer(symbols *registry.SymbolRegistry, schedules *registry.ScheduleRegistry) *Server {
	return &Server{Symbols: symbols, Schedules: schedules}
}

// Router builds the API mux.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)

	mux.HandleFunc("/api/v1/symbols", s.handleSymbols)
	mux.HandleFunc("/api/v1/symbols/bulk", s.handleSymbolsBulk)
	mux.HandleFunc("/api/v1/symbols/", s.handleSymbolByTicker)

	mux.HandleFunc("/api/v1/schedules", s.handleSchedules)
	mux.HandleFunc("/api/v1/schedules/", s.handleScheduleByID)

	mux.HandleFunc("/api/v1/ingestion/symbols", s.handleDesiredSymbols)
	mux.HandleFunc("/api/v1/system/config", s.handleSystemConfig)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "admin"})
}

// handleSymbols serves GET (search) and POST (add) on the catalog.
func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := registry.SearchFilter{
			Query:        r.URL.Query().Get("q"),
			Exchange:     r.URL.Query().Get("exchange"),
			SecurityType: r.URL.Query().Get("security_type"),
			ActiveOnly:   r.URL.Query().Get("active") == "true",
		}
		syms, err := s.Symbols.Search(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": syms, "count": len(syms)})

	case http.MethodPost:
		var sym model.Symbol
		if err := json.NewDecoder(r.Body).Decode(&sym); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.Symbols.Add(r.Context(), &sym); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, sym)

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSymbolsBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Symbols []model.Symbol `json:"symbols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	added, errs := s.Symbols.BulkAdd(r.Context(), req.Symbols)
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": added, "errors": msgs})
}

// handleSymbolByTicker serves GET, PUT and DELETE on /api/v1/symbols/<TICKER>.
func (s *Server) handleSymbolByTicker(w http.ResponseWriter, r *http.Request) {
	ticker := strings.TrimPrefix(r.URL.Path, "/api/v1/symbols/")
	if ticker == "" || strings.Contains(ticker, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sym, err := s.Symbols.Get(r.Context(), ticker)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sym)

	case http.MethodPut:
		var updates struct {
			Description     *string `json:"description"`
			HistoricalDays  *int    `json:"historical_days"`
			BackfillMinutes *int    `json:"backfill_minutes"`
			Active          *bool   `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sym, err := s.Symbols.Update(r.Context(), ticker, func(sym *model.Symbol) {
			if updates.Description != nil {
				sym.Description = *updates.Description
			}
			if updates.HistoricalDays != nil {
				sym.HistoricalDays = *updates.HistoricalDays
			}
			if updates.BackfillMinutes != nil {
				sym.BackfillMinutes = *updates.BackfillMinutes
			}
			if updates.Active != nil {
				sym.Active = *updates.Active
			}
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sym)

	case http.MethodDelete:
		if err := s.Symbols.SoftDelete(r.Context(), ticker); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "symbol": strings.ToUpper(ticker)})

	default:
		methodNotAllowed(w)
	}
}

// handleSchedules serves GET (list) and POST (create).
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scheds, err := s.Schedules.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": scheds, "count": len(scheds)})

	case http.MethodPost:
		var sched model.Schedule
		if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.Schedules.Create(r.Context(), &sched); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, sched)

	default:
		methodNotAllowed(w)
	}
}

// handleScheduleByID serves GET, PUT and DELETE on
// /api/v1/schedules/<SYMBOL>_<type>.
func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	symbol, scheduleType, ok := splitScheduleID(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sched, err := s.Schedules.Get(r.Context(), symbol, scheduleType)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sched)

	case http.MethodPut:
		var updates struct {
			CronExpression *string                 `json:"cron_expression"`
			Enabled        *bool                   `json:"enabled"`
			Config         *map[string]interface{} `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sched, err := s.Schedules.Update(r.Context(), symbol, scheduleType, func(sched *model.Schedule) {
			if updates.CronExpression != nil {
				sched.CronExpression = *updates.CronExpression
			}
			if updates.Enabled != nil {
				sched.Enabled = *updates.Enabled
			}
			if updates.Config != nil {
				sched.Config = *updates.Config
			}
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sched)

	case http.MethodDelete:
		if err := s.Schedules.Delete(r.Context(), symbol, scheduleType); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})

	default:
		methodNotAllowed(w)
	}
}

// handleDesiredSymbols serves the desired live set: GET, PUT (replace) and
// POST (merge).
func (s *Server) handleDesiredSymbols(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		refs, err := s.Schedules.DesiredSymbols(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": refs, "count": len(refs)})

	case http.MethodPut:
		refs, ok := decodeRefs(w, r)
		if !ok {
			return
		}
		if err := s.Schedules.SetDesiredSymbols(r.Context(), refs); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "replaced", "count": len(refs)})

	case http.MethodPost:
		refs, ok := decodeRefs(w, r)
		if !ok {
			return
		}
		added, err := s.Schedules.AddDesiredSymbols(r.Context(), refs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "merged", "added": added})

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSystemConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.Schedules.SystemConfig(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		var cfg model.SystemConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.Schedules.SetSystemConfig(r.Context(), &cfg); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	default:
		methodNotAllowed(w)
	}
}

func decodeRefs(w http.ResponseWriter, r *http.Request) ([]model.SymbolRef, bool) {
	var req struct {
		Symbols []model.SymbolRef `json:"symbols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return req.Symbols, true
}

// splitScheduleID splits "<SYMBOL>_<type>" on the last underscore, so
// tickers containing underscores keep working.
func splitScheduleID(id string) (symbol, scheduleType string, ok bool) {
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	symbol, scheduleType = id[:i], id[i+1:]
	if scheduleType != model.ScheduleHistorical && scheduleType != model.ScheduleLive {
		return "", "", false
	}
	return symbol, scheduleType, true
}

func statusFor(err error) int {
	if errors.Is(err, redis.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[admin] response encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
