package dashboard

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-paper-terminal/internal/models"
	"nifty-paper-terminal/internal/report"
)

func (ts *testServer) seedHistory(t *testing.T) {
	t.Helper()
	ist, err := ts.cfg.Schedule.Location()
	require.NoError(t, err)

	day := func(d, h int) time.Time { return time.Date(2026, 10, d, h, 0, 0, 0, ist) }
	exit1, exit2 := day(13, 14), day(14, 12)
	trades := []*models.Trade{
		{TradeDate: "2026-10-13", StrategyType: models.KindGammaStrangle, EntryTime: day(13, 10), ExitTime: &exit1,
			CEStrike: 25400, PEStrike: 24600, PremiumCollected: 9000, RealizedPnL: 2500, Status: models.StatusClosed, CloseReason: "FORCE_CLOSE"},
		{TradeDate: "2026-10-14", StrategyType: models.KindGammaStrangle, EntryTime: day(14, 10), ExitTime: &exit2,
			CEStrike: 25500, PEStrike: 24700, PremiumCollected: 8000, RealizedPnL: -1200, Status: models.StatusClosed, CloseReason: "GAMMA_L3", AdjustmentLevel: 3},
	}
	for _, tr := range trades {
		require.NoError(t, ts.store.CreateTrade(tr))
	}
	require.NoError(t, ts.store.AddAdjustment(&models.Adjustment{TradeID: trades[1].ID, Level: 3, Action: "close all", Spot: 25200, At: exit2}))
	require.NoError(t, ts.store.UpsertDailySummary(&models.DailySummary{TradeDate: "2026-10-13", TotalTrades: 1, WinningTrades: 1, NetPnL: 2500, WinRate: 100}))
	require.NoError(t, ts.store.UpsertDailySummary(&models.DailySummary{TradeDate: "2026-10-14", TotalTrades: 1, NetPnL: -1200}))
}

func TestTrades(t *testing.T) {
	ts := setupServer(t)
	ts.seedHistory(t)

	w := ts.do(t, http.MethodGet, "/api/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trades []models.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 2)
	assert.Equal(t, "2026-10-14", trades[0].TradeDate, "newest first")

	w = ts.do(t, http.MethodGet, "/api/trades?date=2026-10-13", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, 2500.0, trades[0].RealizedPnL)

	w = ts.do(t, http.MethodGet, "/api/trades?date=13-10-2026", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTradesCSV(t *testing.T) {
	ts := setupServer(t)
	ts.seedHistory(t)

	w := ts.do(t, http.MethodGet, "/api/trades.csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "paper_trades.csv")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	rows, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Contains(t, strings.Join(rows[1], ","), "GAMMA_L3", "newest trade first with its reason")
	assert.Contains(t, strings.Join(rows[1], ","), "close all")
}

func TestPnLViews(t *testing.T) {
	ts := setupServer(t)
	ts.seedHistory(t)

	t.Run("Daily", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/pnl/daily", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rows []models.DailySummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		assert.Len(t, rows, 2)
	})

	t.Run("Weekly", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/pnl/weekly", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var rows []report.WeeklyRow
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		require.Len(t, rows, 1, "both days fall in the same ISO week")
		assert.Equal(t, 2, rows[0].Trades)
		assert.Equal(t, 1, rows[0].Wins)
		assert.InDelta(t, 1300.0, rows[0].NetPnL, 1e-9)
	})

	t.Run("Equity", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/pnl/equity", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var points []report.EquityPoint
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
		require.Len(t, points, 2)
		assert.InDelta(t, 2500.0, points[0].Cumulative, 1e-9)
		assert.InDelta(t, 1300.0, points[1].Cumulative, 1e-9)
	})
}

func readFrame(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLiveWebsocket(t *testing.T) {
	ts := setupServer(t)
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readFrame(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, map[string]any{"initialised": false}, msg.Data)
	assert.Eventually(t, func() bool { return ts.live.Clients() == 1 }, time.Second, 10*time.Millisecond)

	ts.saveProfile(t)
	w := ts.do(t, http.MethodPost, "/api/strategy/init", nil)
	require.Equal(t, http.StatusOK, w.Code)

	ts.live.Broadcast()
	msg = readFrame(t, conn)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["initialised"])
	assert.Equal(t, "GammaStrangle", data["strategy"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return ts.live.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveHub_Run(t *testing.T) {
	ts := setupServer(t)
	ts.live.interval = 20 * time.Millisecond
	srv := httptest.NewServer(ts.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go ts.live.Run(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/live", nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame(t, conn)
	msg := readFrame(t, conn)
	assert.Equal(t, "snapshot", msg.Type, "ticker pushes again")

	cancel()
	assert.Eventually(t, func() bool { return ts.live.Clients() == 0 }, time.Second, 10*time.Millisecond)
}
