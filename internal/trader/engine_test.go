package trader

import (
	"context"
	"testing"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/database"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEngine struct {
	*Engine
	market *MockMarket
	store  *database.Store
	now    time.Time
}

// at moves the engine clock and reprices the market at spot.
func (te *testEngine) at(now time.Time, spot, vol float64) {
	te.now = now
	te.market.setMarket(buildChain(spot, now, testExpiry, vol), risingCandles(spot, now))
}

func setupEngine(t *testing.T) *testEngine {
	db, err := database.NewDatabase(config.Database{DSN: "file::memory:"})
	require.NoError(t, err)
	store := database.NewStore(db)

	market := new(MockMarket)
	engine, err := NewEngine(zap.NewNop(), testConfig(), market, store, nil)
	require.NoError(t, err)

	te := &testEngine{Engine: engine, market: market, store: store}
	engine.now = func() time.Time { return te.now }
	te.at(testNow, 25000, testVol)
	require.NoError(t, engine.Initialize(context.Background()))
	return te
}

func TestEngine_OpenPosition(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)
	assert.NotZero(t, id)

	trade, err := te.store.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, models.KindGammaStrangle, trade.StrategyType)
	assert.Equal(t, models.StatusOpen, trade.Status)
	assert.Equal(t, "2026-10-13", trade.TradeDate)
	assert.Equal(t, 25000.0, trade.EntrySpot)
	assert.Len(t, trade.Legs, 4)
	assert.Greater(t, trade.CEStrike, 25000.0)
	assert.Less(t, trade.PEStrike, 25000.0)
	assert.Greater(t, trade.CEHedgeStrike, trade.CEStrike)
	assert.Less(t, trade.PEHedgeStrike, trade.PEStrike)
	assert.Greater(t, trade.PremiumCollected, 0.0)
	for _, leg := range trade.Legs {
		assert.Equal(t, 65, leg.Quantity)
		assert.True(t, leg.Open)
	}

	snap := te.Snapshot()
	assert.Equal(t, 1, snap.TradesToday)
	require.Len(t, snap.Positions, 1)
	assert.Len(t, snap.Positions[0].Legs, 4)
	assert.Equal(t, 25000.0, snap.Spot)
	assert.Equal(t, "BULLISH", snap.Supertrend)
	assert.Equal(t, "2026-10-20", snap.Expiry)
	assert.InDelta(t, 0, snap.MTM, 1e-6, "fills at the marks")
	assert.InDelta(t, 0, te.NetDelta(), 0.5)
}

func TestEngine_OpenPositionRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("AfterCutoff", func(t *testing.T) {
		te := setupEngine(t)
		te.at(time.Date(2026, 10, 13, 14, 50, 0, 0, ist), 25000, testVol)
		_, err := te.OpenPosition(ctx, "")
		assert.ErrorIs(t, err, ErrEntryRejected)
	})

	t.Run("BeforeOpen", func(t *testing.T) {
		te := setupEngine(t)
		te.at(time.Date(2026, 10, 13, 9, 0, 0, 0, ist), 25000, testVol)
		_, err := te.OpenPosition(ctx, "")
		assert.ErrorIs(t, err, ErrEntryRejected)
	})

	t.Run("Weekend", func(t *testing.T) {
		te := setupEngine(t)
		te.at(time.Date(2026, 10, 17, 11, 0, 0, 0, ist), 25000, testVol)
		_, err := te.OpenPosition(ctx, "")
		assert.ErrorIs(t, err, ErrEntryRejected)
		assert.Contains(t, err.Error(), "Saturday")
	})

	t.Run("MaxTrades", func(t *testing.T) {
		te := setupEngine(t)
		for i := 0; i < 2; i++ {
			_, err := te.OpenPosition(ctx, "")
			require.NoError(t, err)
		}
		_, err := te.OpenPosition(ctx, "")
		assert.ErrorIs(t, err, ErrEntryRejected)
	})

	t.Run("NoTrend", func(t *testing.T) {
		te := setupEngine(t)
		te.market.setMarket(buildChain(25000, testNow, testExpiry, testVol), risingCandles(25000, testNow)[:5])
		_, err := te.OpenPosition(ctx, "")
		assert.ErrorIs(t, err, ErrEntryRejected)
	})

	t.Run("ExpiryNotToday", func(t *testing.T) {
		te := setupEngine(t)
		_, err := te.OpenPosition(ctx, models.KindExpiry)
		assert.ErrorIs(t, err, ErrEntryRejected)
	})

	t.Run("MarketDown", func(t *testing.T) {
		te := setupEngine(t)
		te.market.ExpectedCalls = nil
		te.market.On("OptionChain", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, fyers.ErrTokenExpired)
		_, err := te.OpenPosition(ctx, "")
		assert.ErrorIs(t, err, fyers.ErrTokenExpired)
		assert.NotEmpty(t, te.Snapshot().LastError)
	})
}

func TestEngine_ClosePosition(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)

	// Time decay with an unchanged spot favours the short strangle.
	te.at(testNow.Add(4*time.Hour), 25000, testVol)
	pnl, err := te.ClosePosition(ctx, id, "")
	require.NoError(t, err)
	assert.Greater(t, pnl, 0.0)

	trade, err := te.store.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, trade.Status)
	assert.Equal(t, ReasonManual, trade.CloseReason)
	assert.InDelta(t, pnl, trade.RealizedPnL, 1e-6)
	require.NotNil(t, trade.ExitTime)
	for _, leg := range trade.Legs {
		assert.False(t, leg.Open)
		assert.NotZero(t, leg.ExitPrice)
	}

	assert.Empty(t, te.Positions())
	assert.InDelta(t, pnl, te.Snapshot().DailyPnL, 1e-6)

	_, err = te.ClosePosition(ctx, id, "")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestEngine_CloseAllPositions(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := te.OpenPosition(ctx, "")
		require.NoError(t, err)
	}
	_, err := te.CloseAllPositions(ctx, ReasonForceClose)
	require.NoError(t, err)
	assert.Empty(t, te.Positions())

	open, err := te.store.OpenTrades()
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestEngine_MonitorGammaL3(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	require.NoError(t, te.SetParams(Params{Capital: 1_000_000, RiskPct: 5, MaxTradesPerDay: 2, NumLots: 1}))

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)

	te.at(testNow.Add(20*time.Minute), 25350, testVol)
	require.NoError(t, te.MonitorPositions(ctx))

	trade, err := te.store.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, trade.Status)
	assert.Equal(t, ReasonGammaL3, trade.CloseReason)
	assert.Equal(t, 3, trade.AdjustmentLevel)

	adjs, err := te.store.AdjustmentsForTrade(id)
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	assert.Equal(t, 3, adjs[0].Level)
	assert.Equal(t, "CLOSE GAMMA_L3", adjs[0].Action)
}

func TestEngine_MonitorRoll(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	require.NoError(t, te.SetParams(Params{Capital: 1_000_000, RiskPct: 5, MaxTradesPerDay: 2, NumLots: 1}))

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)
	before, err := te.store.GetTrade(id)
	require.NoError(t, err)

	te.at(testNow.Add(time.Hour), 24840, testVol)
	require.NoError(t, te.MonitorPositions(ctx))

	views := te.Positions()
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].Adjustments)

	trade, err := te.store.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, trade.Status)
	assert.Len(t, trade.Legs, 5, "one leg closed and one opened")
	assert.GreaterOrEqual(t, trade.AdjustmentLevel, 1)

	adjs, err := te.store.AdjustmentsForTrade(id)
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	if adjs[0].Level == 1 {
		// The untested call is rolled down toward the spot.
		assert.Less(t, trade.CEStrike, before.CEStrike)
		assert.Equal(t, before.PEStrike, trade.PEStrike)
	} else {
		// The tested put is shifted further out.
		assert.Equal(t, 2, adjs[0].Level)
		assert.Less(t, trade.PEStrike, before.PEStrike)
	}

	// Premium collected nets the buyback of the replaced short.
	known := map[uint]bool{}
	for _, l := range before.Legs {
		known[l.ID] = true
	}
	var closed, opened *models.Leg
	for i := range trade.Legs {
		l := &trade.Legs[i]
		switch {
		case !known[l.ID]:
			opened = l
		case !l.Open:
			closed = l
		}
	}
	require.NotNil(t, closed)
	require.NotNil(t, opened)
	assert.InDelta(t, before.PremiumCollected+(opened.EntryPrice-closed.ExitPrice)*float64(opened.Quantity),
		trade.PremiumCollected, 1e-6)

	// A second cycle at the same spot does not adjust again.
	te.at(testNow.Add(time.Hour+time.Minute), 24840, testVol)
	require.NoError(t, te.MonitorPositions(ctx))
	adjs, err = te.store.AdjustmentsForTrade(id)
	require.NoError(t, err)
	assert.Len(t, adjs, 1)
}

func TestEngine_KillSwitch(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	require.NoError(t, te.SetParams(Params{Capital: 100_000, RiskPct: 0.5, MaxTradesPerDay: 2, NumLots: 1}))
	te.Start()

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)

	// Implied vol doubles: the short strangle marks deep in the red.
	te.at(testNow.Add(10*time.Minute), 25000, 2*testVol)
	require.NoError(t, te.MonitorPositions(ctx))

	trade, err := te.store.GetTrade(id)
	require.NoError(t, err)
	assert.Equal(t, ReasonDailyLoss, trade.CloseReason)
	assert.False(t, te.Running())
	assert.Less(t, te.Snapshot().DailyPnL, -500.0)

	_, err = te.OpenPosition(ctx, "")
	assert.ErrorIs(t, err, ErrEntryRejected)
}

func TestEngine_AutoEntry(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	te.at(time.Date(2026, 10, 13, 9, 18, 0, 0, ist), 25000, testVol)
	require.NoError(t, te.MonitorPositions(ctx))
	assert.Empty(t, te.Positions(), "not running")

	te.Start()
	require.NoError(t, te.MonitorPositions(ctx))
	assert.Empty(t, te.Positions(), "before strategy start")

	te.at(testNow, 25000, testVol)
	require.NoError(t, te.MonitorPositions(ctx))
	require.Len(t, te.Positions(), 1)
	assert.Equal(t, models.KindGammaStrangle, te.Positions()[0].StrategyType)

	require.NoError(t, te.MonitorPositions(ctx))
	assert.Len(t, te.Positions(), 1, "one position at a time")

	te.Stop()
	assert.False(t, te.Running())
}

func TestEngine_ResetDay(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	te.Start()

	_, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)
	_, err = te.ResetDay(ctx)
	require.NoError(t, err)

	snap := te.Snapshot()
	assert.False(t, snap.Running)
	assert.Zero(t, snap.TradesToday)
	assert.Zero(t, snap.DailyPnL)
	assert.Empty(t, snap.Positions)
}

func TestEngine_EODSummary(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)
	te.at(testNow.Add(4*time.Hour), 25000, testVol)
	pnl, err := te.ClosePosition(ctx, id, ReasonForceClose)
	require.NoError(t, err)

	rep, err := te.GenerateEODSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-13", rep.Summary.TradeDate)
	assert.Equal(t, 1, rep.Summary.TotalTrades)
	assert.InDelta(t, pnl, rep.Summary.NetPnL, 1e-6)
	assert.Len(t, rep.Trades, 1)

	summaries, err := te.store.DailySummaries()
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	// Regenerating replaces the stored summary.
	_, err = te.GenerateEODSummary(ctx)
	require.NoError(t, err)
	summaries, err = te.store.DailySummaries()
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestEngine_MarginRequired(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	te.market.On("Margin", mock.Anything, mock.MatchedBy(func(legs []fyers.MarginLeg) bool { return len(legs) == 4 })).
		Return(&fyers.MarginResult{Total: 95000, NewOrder: 90000, Span: 70000, Exposure: 20000}, nil)
	te.market.On("Margin", mock.Anything, mock.MatchedBy(func(legs []fyers.MarginLeg) bool { return len(legs) == 2 })).
		Return(&fyers.MarginResult{Total: 250000}, nil)

	est, err := te.MarginRequired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90000.0, est.Required)
	assert.Equal(t, 250000.0, est.Naked)
	assert.Equal(t, 160000.0, est.HedgeBenefit)
	assert.Equal(t, 65, est.Quantity)
	assert.InDelta(t, 18.0, est.Utilisation, 1e-9)
	require.Len(t, est.Legs, 4)
	assert.Equal(t, -1, est.Legs[0].Side)
	assert.Equal(t, 1, est.Legs[2].Side)
}

func TestEngine_GammaRisk(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()
	assert.Zero(t, te.GammaRiskScore())

	_, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)
	calm := te.GammaRiskScore()
	assert.Greater(t, calm, 0.0)

	te.at(testNow.Add(time.Hour), 25150, testVol)
	te.mu.Lock()
	require.NoError(t, te.refreshMarketLocked(ctx))
	require.NoError(t, te.markPositionsLocked(ctx))
	te.mu.Unlock()
	stressed := te.GammaRiskScore()
	assert.Greater(t, stressed, calm)
	assert.LessOrEqual(t, stressed, 100.0)
}

func TestEngine_SetParams(t *testing.T) {
	te := setupEngine(t)

	assert.Error(t, te.SetParams(Params{Capital: 10, RiskPct: 2, MaxTradesPerDay: 2, NumLots: 1}))
	assert.Equal(t, 500_000.0, te.Params().Capital)

	require.NoError(t, te.SetParams(Params{Capital: 800_000, RiskPct: 1, MaxTradesPerDay: 3, NumLots: 2}))
	assert.Equal(t, 8000.0, te.Params().MaxDailyLoss())
}

func TestEngine_InitializeRestoresBook(t *testing.T) {
	te := setupEngine(t)
	ctx := context.Background()

	id, err := te.OpenPosition(ctx, "")
	require.NoError(t, err)

	restarted, err := NewEngine(zap.NewNop(), testConfig(), te.market, te.store, nil)
	require.NoError(t, err)
	restarted.now = func() time.Time { return testNow }
	require.NoError(t, restarted.Initialize(ctx))

	views := restarted.Positions()
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].TradeID)
	assert.Equal(t, 1, restarted.Snapshot().TradesToday)
}
