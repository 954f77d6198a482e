package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/solo2d/internal/aggregate"
	"codeberg.org/mutker/solo2d/internal/history"
	"codeberg.org/mutker/solo2d/internal/record"
	"github.com/julienschmidt/httprouter"
)

const (
	defaultHistoryLimit = 96
	maxHistoryLimit     = 1000
	historyTimeout      = 5 * time.Second
)

// Cache is the read side of the poll cache.
type Cache interface {
	Windows() []int
	Get(window int) (record.Record, bool)
	Coverage(window int) (aggregate.Coverage, bool)
	LastRefresh() time.Time
}

type windowResponse struct {
	Window      int     `json:"window"`
	Present     int     `json:"present"`
	Coverage    float64 `json:"coverage"`
	Consumption float64 `json:"consumption_kwh"`
	Cost        float64 `json:"cost"`
	Generation  float64 `json:"generation_kwh"`
	Gain        float64 `json:"gain"`
	Temp1       float64 `json:"temp1_celsius"`
	Temp2       float64 `json:"temp2_celsius"`
}

type stateResponse struct {
	LastRefreshed *time.Time       `json:"last_refreshed"`
	Windows       []windowResponse `json:"windows"`
}

type healthResponse struct {
	Status        string     `json:"status"`
	LastRefreshed *time.Time `json:"last_refreshed"`
}

type historyEntry struct {
	At time.Time `json:"at"`
	windowResponse
}

type errorResponse struct {
	Error string `json:"error"`
}

func newWindowResponse(window int, r record.Record, cov aggregate.Coverage) windowResponse {
	return windowResponse{
		Window:      window,
		Present:     cov.Present,
		Coverage:    cov.Ratio(),
		Consumption: r.Consumption,
		Cost:        r.Cost,
		Generation:  r.Generation,
		Gain:        r.Gain,
		Temp1:       r.Temp1,
		Temp2:       r.Temp2,
	}
}

func lastRefreshed(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	resp := stateResponse{
		LastRefreshed: lastRefreshed(s.cache.LastRefresh()),
		Windows:       []windowResponse{},
	}

	for _, window := range s.cache.Windows() {
		r, ok := s.cache.Get(window)
		if !ok {
			continue
		}
		cov, _ := s.cache.Coverage(window)
		resp.Windows = append(resp.Windows, newWindowResponse(window, r, cov))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	last := s.cache.LastRefresh()
	resp := healthResponse{Status: "ok", LastRefreshed: lastRefreshed(last)}
	status := http.StatusOK

	switch {
	case last.IsZero():
		resp.Status = "starting"
		status = http.StatusServiceUnavailable
	case s.now().Sub(last) > s.staleAfter:
		resp.Status = "stale"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	window, err := strconv.Atoi(ps.ByName("window"))
	if err != nil || window < 1 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid window"})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = min(limit, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	entries, err := s.history.Recent(ctx, window, limit)
	if err != nil {
		s.logger.Warn().Err(err).Int("window", window).Msg("Failed to read history")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}

	resp := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyEntry{
			At:             e.At.UTC(),
			windowResponse: newWindowResponse(e.Window, e.Record, coverageOf(e)),
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func coverageOf(e history.Entry) aggregate.Coverage {
	return aggregate.Coverage{Present: e.Present, Window: e.Window}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	marshaled, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(marshaled); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}
