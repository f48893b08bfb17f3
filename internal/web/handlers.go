package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"svea/internal/store"
	"svea/pkg/model"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// dateParam returns the date query parameter, defaulting to today.
func (s *Server) dateParam(r *http.Request) string {
	if d := r.URL.Query().Get("date"); d != "" {
		return d
	}
	return s.schedule.DateKey(s.clock())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.schedule.StatusAt(s.clock())

	resp := map[string]any{
		"market": map[string]any{
			"is_open":    st.IsOpen,
			"reason":     st.Reason,
			"open_time":  st.OpenTime,
			"close_time": st.CloseTime,
		},
		"time": st.Now,
	}
	if s.jobs != nil {
		resp["jobs"] = s.jobs.Status()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	date := s.dateParam(r)
	entries, err := s.store.Watchlist(date)
	if err != nil {
		s.log.Errorw("loading watchlist", "error", err)
		s.writeError(w, http.StatusInternalServerError, "loading watchlist")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"date": date, "watchlist": entries})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	date := s.dateParam(r)
	signals, err := s.store.Signals(date)
	if err != nil {
		s.log.Errorw("loading signals", "error", err)
		s.writeError(w, http.StatusInternalServerError, "loading signals")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"date": date, "signals": signals})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	var (
		trades []model.Trade
		err    error
	)
	if date := r.URL.Query().Get("date"); date != "" {
		trades, err = s.store.Trades(date)
	} else {
		trades, err = s.store.RecentTrades(50)
	}
	if err != nil {
		s.log.Errorw("loading trades", "error", err)
		s.writeError(w, http.StatusInternalServerError, "loading trades")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary()
	if err != nil {
		s.log.Errorw("loading summary", "error", err)
		s.writeError(w, http.StatusInternalServerError, "loading summary")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

// handleExecuteSignal flags a signal as acted on by the operator.
func (s *Server) handleExecuteSignal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.MarkSignalExecuted(id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	if err != nil {
		s.log.Errorw("marking signal executed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "updating signal")
		return
	}

	sig, err := s.store.Signal(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading signal")
		return
	}
	s.log.Infow("signal marked executed", "id", id, "ticker", sig.Ticker)
	s.writeJSON(w, http.StatusOK, sig)
}

type closeTradeRequest struct {
	Price float64 `json:"price"`
}

// handleCloseTrade closes an open trade at an operator-supplied price.
func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req closeTradeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Price <= 0 {
		s.writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	err := s.store.CloseTrade(id, s.clock(), req.Price, model.ExitManual)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "trade not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	trade, err := s.store.Trade(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "loading trade")
		return
	}
	s.log.Infow("trade closed manually", "id", id, "ticker", trade.Ticker, "price", req.Price)
	s.writeJSON(w, http.StatusOK, trade)
}
