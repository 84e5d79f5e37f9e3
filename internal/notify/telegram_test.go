package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBotAPI records sendMessage calls and fails the first `failures` of them.
type fakeBotAPI struct {
	mu       sync.Mutex
	texts    []string
	chatIDs  []string
	failures int
	status   int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 404, "description": "Not Found"})
		return
	}
	_ = r.ParseMultipartForm(1 << 20)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": f.status, "description": "failure"})
		return
	}
	f.texts = append(f.texts, r.FormValue("text"))
	f.chatIDs = append(f.chatIDs, r.FormValue("chat_id"))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok": true,
		"result": map[string]any{
			"message_id": len(f.texts),
			"date":       time.Now().Unix(),
			"chat":       map[string]any{"id": 42, "type": "private"},
			"text":       r.FormValue("text"),
		},
	})
}

func (f *fakeBotAPI) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) *Telegram {
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	tg, err := NewTelegram(config.Telegram{BotToken: "123:abc", ChatID: "42", ServerURL: server.URL}, zap.NewNop())
	require.NoError(t, err)
	tg.minWait, tg.maxWait = time.Millisecond, 5*time.Millisecond
	return tg
}

func TestTelegram_Send(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)
	require.True(t, tg.Enabled())

	require.NoError(t, tg.Send(context.Background(), "hello"))
	assert.Equal(t, []string{"[PAPER] hello"}, api.sent())
	assert.Equal(t, []string{"42"}, api.chatIDs)
}

func TestTelegram_Test(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)

	require.NoError(t, tg.Test(context.Background()))
	require.Len(t, api.sent(), 1)
	assert.Contains(t, api.sent()[0], "connected")
}

func TestTelegram_RetriesTransientErrors(t *testing.T) {
	api := &fakeBotAPI{failures: 2, status: http.StatusInternalServerError}
	tg := newTestTelegram(t, api)

	require.NoError(t, tg.Send(context.Background(), "eventually"))
	assert.Equal(t, []string{"[PAPER] eventually"}, api.sent())
}

func TestTelegram_GivesUp(t *testing.T) {
	api := &fakeBotAPI{failures: 5, status: http.StatusInternalServerError}
	tg := newTestTelegram(t, api)

	err := tg.Send(context.Background(), "lost")
	assert.Error(t, err)
	assert.Empty(t, api.sent())
	assert.Equal(t, 2, api.failures, "three attempts were made")
}

func TestTelegram_NoRetryOnBadRequest(t *testing.T) {
	api := &fakeBotAPI{failures: 5, status: http.StatusBadRequest}
	tg := newTestTelegram(t, api)

	assert.Error(t, tg.Test(context.Background()))
	assert.Equal(t, 4, api.failures, "only one attempt was made")
}

func TestTelegram_Disabled(t *testing.T) {
	tg, err := NewTelegram(config.Telegram{}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, tg.Enabled())
	assert.NoError(t, tg.Send(context.Background(), "dropped"))
	assert.ErrorIs(t, tg.Test(context.Background()), ErrDisabled)
}

func TestTelegram_Configure(t *testing.T) {
	api := &fakeBotAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	tg, err := NewTelegram(config.Telegram{ServerURL: server.URL}, zap.NewNop())
	require.NoError(t, err)
	require.False(t, tg.Enabled())

	require.NoError(t, tg.Configure("123:abc", "42"))
	assert.True(t, tg.Enabled())
	require.NoError(t, tg.Send(context.Background(), "now enabled"))
	assert.Len(t, api.sent(), 1)

	require.NoError(t, tg.Configure("", ""))
	assert.False(t, tg.Enabled())
}

func TestTelegram_TradeAlerts(t *testing.T) {
	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api)
	ctx := context.Background()

	trade := &models.Trade{StrategyType: models.KindGammaStrangle, CEStrike: 25300, PEStrike: 24700, CloseReason: "TARGET", RealizedPnL: 1520.5}
	trade.ID = 7

	require.NoError(t, tg.TradeOpened(ctx, trade))
	require.NoError(t, tg.TradeClosed(ctx, trade))
	require.NoError(t, tg.Adjusted(ctx, trade, &models.Adjustment{Level: 2, Action: "ROLL_CE", Spot: 25210}))

	sent := api.sent()
	require.Len(t, sent, 3)
	assert.Contains(t, sent[0], "Trade #7 opened")
	assert.Contains(t, sent[1], "P&L +1520.50")
	assert.Contains(t, sent[2], "Gamma defence L2")
}
