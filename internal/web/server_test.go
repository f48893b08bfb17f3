package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svea/internal/config"
	"svea/internal/logging"
	"svea/internal/market"
	"svea/internal/store"
	"svea/pkg/model"
)

var stockholm, _ = time.LoadLocation("Europe/Stockholm")

type fixture struct {
	server *Server
	store  *store.Store
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.WebConfig{Port: 0, AuthToken: "test-secret"}
	srv := NewServer(st, market.DefaultSchedule(), func() time.Time { return now }, nil, cfg, logging.Nop())
	return &fixture{server: srv, store: st}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/login", loginRequest{Secret: "test-secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func TestStatusEndpoint(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, stockholm)
	f := newFixture(t, now)

	rec := f.do(t, http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	mkt := resp["market"].(map[string]any)
	assert.Equal(t, true, mkt["is_open"])
	assert.Equal(t, "open", mkt["reason"])
}

func TestWatchlistEndpoint(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, stockholm)
	f := newFixture(t, now)

	require.NoError(t, f.store.ReplaceWatchlist("2025-03-10", []model.WatchlistEntry{
		{Ticker: "VOLV-B.ST", Name: "Volvo B", Date: "2025-03-10", TrendScore: 85},
	}))

	// Defaults to today when no date is given.
	rec := f.do(t, http.MethodGet, "/api/watchlist", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Date      string                 `json:"date"`
		Watchlist []model.WatchlistEntry `json:"watchlist"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-03-10", resp.Date)
	require.Len(t, resp.Watchlist, 1)
	assert.Equal(t, "VOLV-B.ST", resp.Watchlist[0].Ticker)
}

func TestCORSPreflights(t *testing.T) {
	f := newFixture(t, time.Now())
	rec := f.do(t, http.MethodOptions, "/api/watchlist", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginRejectsBadSecret(t *testing.T) {
	f := newFixture(t, time.Now())
	rec := f.do(t, http.MethodPost, "/api/login", loginRequest{Secret: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExecuteSignalRequiresAuth(t *testing.T) {
	f := newFixture(t, time.Now())
	rec := f.do(t, http.MethodPost, "/api/signals/abc/execute", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/signals/abc/execute", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExecuteSignal(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, stockholm)
	f := newFixture(t, now)

	sig := model.Signal{
		ID: "sig-1", Ticker: "VOLV-B.ST", Date: "2025-03-10",
		SignalTime: now, EntryPrice: 103, OpenPrice: 100, VWAP: 101,
	}
	require.NoError(t, f.store.SaveSignal(sig))

	token := f.login(t)
	rec := f.do(t, http.MethodPost, "/api/signals/sig-1/execute", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := f.store.Signal("sig-1")
	require.NoError(t, err)
	assert.True(t, got.Executed)
}

func TestExecuteMissingSignal(t *testing.T) {
	f := newFixture(t, time.Now())
	token := f.login(t)
	rec := f.do(t, http.MethodPost, "/api/signals/nope/execute", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCloseTradeManually(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, stockholm)
	f := newFixture(t, now)

	require.NoError(t, f.store.CreateTrade(model.Trade{
		ID: "t1", SignalID: "s1", Ticker: "VOLV-B.ST", Date: "2025-03-10",
		EntryTime: now.Add(-4 * time.Hour), EntryPrice: 100,
	}))

	token := f.login(t)
	auth := map[string]string{"Authorization": "Bearer " + token}

	rec := f.do(t, http.MethodPost, "/api/trades/t1/close", closeTradeRequest{Price: 104}, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var trade model.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trade))
	assert.Equal(t, model.ExitManual, trade.ExitReason)
	require.NotNil(t, trade.PnLPct)
	assert.InDelta(t, 4.0, *trade.PnLPct, 0.001)

	// Closing again conflicts.
	rec = f.do(t, http.MethodPost, "/api/trades/t1/close", closeTradeRequest{Price: 105}, auth)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloseTradeValidatesPrice(t *testing.T) {
	f := newFixture(t, time.Now())
	token := f.login(t)
	rec := f.do(t, http.MethodPost, "/api/trades/t1/close", closeTradeRequest{Price: -1}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradesEndpoint(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, stockholm)
	f := newFixture(t, now)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.CreateTrade(model.Trade{
			ID:       fmt.Sprintf("t%d", i),
			SignalID: fmt.Sprintf("s%d", i),
			Ticker:   fmt.Sprintf("T%d.ST", i),
			Date:     "2025-03-10", EntryTime: now, EntryPrice: 100,
		}))
	}

	rec := f.do(t, http.MethodGet, "/api/trades?date=2025-03-10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Trades []model.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Trades, 3)
}

func TestSummaryEndpoint(t *testing.T) {
	f := newFixture(t, time.Now())
	rec := f.do(t, http.MethodGet, "/api/backtest/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sum store.TradeSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 0, sum.Total)
}
