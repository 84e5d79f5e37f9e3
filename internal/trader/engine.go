package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/database"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/greeks"
	"nifty-paper-terminal/internal/indicators"
	"nifty-paper-terminal/internal/metrics"
	"nifty-paper-terminal/internal/models"
	"nifty-paper-terminal/internal/notify"
	"nifty-paper-terminal/internal/report"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrNotInitialised is returned by callers that need an engine before one exists.
	ErrNotInitialised = errors.New("trader: strategy engine not initialised")
	// ErrEntryRejected wraps every reason a new trade is refused.
	ErrEntryRejected = errors.New("trader: entry rejected")
	// ErrTradeNotFound is returned for ids that are not in the open book.
	ErrTradeNotFound = errors.New("trader: trade not found")
)

// Close reasons.
const (
	ReasonManual         = "MANUAL"
	ReasonForceClose     = "FORCE_CLOSE"
	ReasonDailyLoss      = "DAILY_LOSS_LIMIT"
	ReasonReset          = "DAY_RESET"
	ReasonTarget         = "TARGET"
	ReasonStopLoss       = "STOP_LOSS"
	ReasonGammaL2        = "GAMMA_L2"
	ReasonGammaL3        = "GAMMA_L3"
	ReasonMaxAdjustments = "MAX_ADJUSTMENTS"
)

// historyDays is how far back candles are fetched for the indicators.
const historyDays = 5

// Params are the user-adjustable sizing and risk limits.
type Params struct {
	Capital         float64 `json:"capital"`
	RiskPct         float64 `json:"risk_pct"`
	MaxTradesPerDay int     `json:"max_trades_day"`
	NumLots         int     `json:"num_lots"`
}

// MaxDailyLoss is the loss at which the kill switch fires.
func (p Params) MaxDailyLoss() float64 {
	return p.Capital * p.RiskPct / 100
}

// Engine runs the paper strategy: it reads market data, simulates fills and
// keeps the book of open trades. All methods are safe for concurrent use.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	market   fyers.ClientInterface
	store    *database.Store
	strategy Strategy
	broker   *PaperBroker
	notifier notify.Notifier
	metrics  *metrics.Metrics
	loc      *time.Location
	now      func() time.Time

	mu          sync.Mutex
	params      Params
	running     bool
	day         string
	dailyPnL    float64 // realized today
	tradesToday int
	state       MarketState
	lastUpdate  time.Time
	lastError   string
	book        map[uint]*Position
}

// NewEngine creates a new trading engine. A nil notifier disables alerts.
func NewEngine(logger *zap.Logger, cfg *config.Config, market fyers.ClientInterface, store *database.Store, notifier notify.Notifier) (*Engine, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}
	logger = logger.Named("engine")
	if notifier == nil {
		if notifier, err = notify.NewTelegram(config.Telegram{}, logger); err != nil {
			return nil, err
		}
	}
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		market:   market,
		store:    store,
		strategy: NewGammaStrangle(),
		broker:   NewPaperBroker(cfg.Trading.TickSize, logger),
		notifier: notifier,
		loc:      loc,
		now:      time.Now,
		params: Params{
			Capital:         cfg.Trading.Capital,
			RiskPct:         cfg.Trading.RiskPct,
			MaxTradesPerDay: cfg.Trading.MaxTradesPerDay,
			NumLots:         cfg.Trading.NumLots,
		},
		book: make(map[uint]*Position),
	}, nil
}

// WithMetrics attaches a metrics recorder.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithStrategy replaces the default strategy.
func (e *Engine) WithStrategy(s Strategy) *Engine {
	e.strategy = s
	return e
}

// SetMarket swaps the market data client, e.g. after a fresh login.
func (e *Engine) SetMarket(market fyers.ClientInterface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.market = market
	e.lastError = ""
}

func (e *Engine) sctx() StrategyContext {
	return StrategyContext{Logger: e.logger, Cfg: e.cfg, Loc: e.loc}
}

func (e *Engine) clock() time.Time {
	return e.now().In(e.loc)
}

// Initialize prepares the strategy and restores the open book and today's
// counters from the trade history.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("Initializing strategy engine", zap.String("strategy", e.strategy.Name()))
	if err := e.strategy.Initialize(e.sctx()); err != nil {
		return fmt.Errorf("failed to initialize strategy %s: %w", e.strategy.Name(), err)
	}

	open, err := e.store.OpenTrades()
	if err != nil {
		return err
	}
	for i := range open {
		trade := &open[i]
		adjs, err := e.store.AdjustmentsForTrade(trade.ID)
		if err != nil {
			return err
		}
		e.book[trade.ID] = newPosition(trade, len(adjs))
	}

	e.day = e.clock().Format(report.DateLayout)
	today, err := e.store.TradesOn(e.day)
	if err != nil {
		return err
	}
	e.tradesToday = len(today)
	e.dailyPnL = lo.SumBy(lo.Filter(today, func(t models.Trade, _ int) bool { return !t.IsOpen() }),
		func(t models.Trade) float64 { return t.RealizedPnL })

	e.logger.Info("Strategy engine initialized",
		zap.Int("open_trades", len(e.book)),
		zap.Int("trades_today", e.tradesToday),
		zap.Float64("daily_pnl", e.dailyPnL),
	)
	e.updateGaugesLocked()
	return nil
}

// Start enables automatic entries.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.running = true
		e.logger.Info("Strategy started")
	}
}

// Stop disables automatic entries. Open positions stay open and are still
// monitored.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.running = false
		e.logger.Info("Strategy stopped", zap.Int("open_trades", len(e.book)))
	}
}

// Running reports whether automatic entries are enabled.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Params returns the current sizing and risk limits.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// SetParams validates and applies new limits.
func (e *Engine) SetParams(p Params) error {
	if err := config.ValidateParams(p.Capital, p.RiskPct, p.MaxTradesPerDay, p.NumLots); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p
	e.logger.Info("Parameters updated",
		zap.Float64("capital", p.Capital),
		zap.Float64("risk_pct", p.RiskPct),
		zap.Int("max_trades_day", p.MaxTradesPerDay),
		zap.Int("num_lots", p.NumLots),
	)
	return nil
}

// rollDayLocked resets the daily counters when the date changes.
func (e *Engine) rollDayLocked(now time.Time) {
	d := now.Format(report.DateLayout)
	if e.day == d {
		return
	}
	if e.day != "" {
		e.logger.Info("New trading day", zap.String("date", d), zap.String("previous", e.day))
	}
	e.day = d
	e.dailyPnL = 0
	e.tradesToday = 0
}

// refreshMarketLocked reloads spot, chain and indicators.
func (e *Engine) refreshMarketLocked(ctx context.Context) error {
	now := e.clock()
	tc, sc := e.cfg.Trading, e.cfg.Strategy

	chain, err := e.market.OptionChain(ctx, tc.IndexSymbol, tc.StrikeCount, 0)
	if err != nil {
		e.lastError = err.Error()
		return err
	}

	spot := chain.Underlying
	if spot <= 0 {
		quotes, err := e.market.Quotes(ctx, tc.IndexSymbol)
		if err != nil {
			e.lastError = err.Error()
			return err
		}
		spot = quotes[tc.IndexSymbol].LTP
	}
	if spot <= 0 {
		e.lastError = "no spot price for " + tc.IndexSymbol
		return errors.New(e.lastError)
	}

	var expiry time.Time
	if len(chain.Expiries) > 0 {
		if expiry, err = chain.Expiries[0].Time(e.loc); err != nil {
			e.logger.Warn("Could not parse expiry", zap.Error(err))
		}
	}

	state := MarketState{
		Now:        now,
		Spot:       spot,
		Supertrend: indicators.Neutral,
		Expiry:     expiry,
		Chain:      chain,
	}
	candles, err := e.market.History(ctx, tc.IndexSymbol, sc.CandleResolution, now.AddDate(0, 0, -historyDays), now)
	if err != nil {
		// Without candles the trend is unknown and entries are refused.
		e.logger.Warn("Could not fetch candles", zap.Error(err))
	} else {
		st := indicators.NewSupertrend(candles, sc.SupertrendPeriod, sc.SupertrendMult)
		state.Supertrend = st.Direction()
		state.SupertrendValue = st.Value()
		state.VWAP = indicators.VWAP(candles, e.loc)
	}

	e.state = state
	e.lastUpdate = now
	e.lastError = ""
	e.logger.Debug("Market refreshed",
		zap.Float64("spot", spot),
		zap.String("supertrend", string(state.Supertrend)),
		zap.Float64("vwap", state.VWAP),
		zap.Int("contracts", len(chain.Contracts)),
	)
	return nil
}

// markPositionsLocked prices every open leg from the chain, falling back to
// quotes for legs outside it, and recomputes their greeks.
func (e *Engine) markPositionsLocked(ctx context.Context) error {
	if len(e.book) == 0 {
		return nil
	}
	prices := make(map[string]float64)
	if e.state.Chain != nil {
		for _, c := range e.state.Chain.Contracts {
			prices[c.Symbol] = c.LTP
		}
	}

	var missing []string
	for _, pos := range e.book {
		for _, leg := range pos.OpenLegs() {
			if prices[leg.Symbol] <= 0 {
				missing = append(missing, leg.Symbol)
			}
		}
	}
	var quoteErr error
	if len(missing) > 0 {
		quotes, err := e.market.Quotes(ctx, lo.Uniq(missing)...)
		if err != nil {
			quoteErr = err
			e.logger.Warn("Could not quote open legs, keeping last prices", zap.Error(err))
		}
		for sym, q := range quotes {
			prices[sym] = q.LTP
		}
	}

	now := e.clock()
	r := e.cfg.Strategy.RiskFreeRate
	for _, pos := range e.book {
		t := greeks.YearsToExpiry(now, pos.Trade.Expiry)
		for _, leg := range pos.OpenLegs() {
			if p := prices[leg.Symbol]; p > 0 {
				leg.CurrentPrice = p
			}
			if e.state.Spot <= 0 || leg.CurrentPrice <= 0 {
				continue
			}
			g, err := greeks.FromPrice(greeks.KindOf(leg.OptionType), leg.CurrentPrice, e.state.Spot, leg.Strike, t, r)
			if err != nil {
				continue
			}
			leg.IV, leg.Delta, leg.Gamma = g.IV, g.Delta, g.Gamma
			if err := e.store.SaveLeg(leg); err != nil {
				e.logger.Warn("Failed to save leg mark", zap.String("symbol", leg.Symbol), zap.Error(err))
			}
		}
	}
	return quoteErr
}

// checkRiskLocked refuses entries once a daily limit is reached.
func (e *Engine) checkRiskLocked(now time.Time) error {
	sched := e.cfg.Schedule
	switch {
	case isWeekend(now):
		return rejected("market is closed on %s", now.Weekday())
	case now.Before(clockOn(now, sched.MarketOpen)):
		return rejected("market opens at %s", sched.MarketOpen)
	case !now.Before(clockOn(now, sched.NoNewTrades)):
		return rejected("no new trades after %s", sched.NoNewTrades)
	case e.tradesToday >= e.params.MaxTradesPerDay:
		return rejected("max %d trades per day reached", e.params.MaxTradesPerDay)
	case e.dailyPnL+e.openMTMLocked() <= -e.params.MaxDailyLoss():
		return rejected("daily loss limit %.0f reached", e.params.MaxDailyLoss())
	}
	return nil
}

// OpenPosition enters a new paper trade of kind at market. An empty kind
// means GAMMA_STRANGLE.
func (e *Engine) OpenPosition(ctx context.Context, kind string) (uint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if kind == "" {
		kind = models.KindGammaStrangle
	}
	now := e.clock()
	e.rollDayLocked(now)
	if err := e.checkRiskLocked(now); err != nil {
		return 0, err
	}
	if err := e.refreshMarketLocked(ctx); err != nil {
		return 0, fmt.Errorf("failed to refresh market: %w", err)
	}
	return e.enterLocked(ctx, kind)
}

func (e *Engine) enterLocked(ctx context.Context, kind string) (uint, error) {
	m := e.state
	sctx := e.sctx()
	if err := e.strategy.CheckEntry(sctx, m, kind); err != nil {
		return 0, err
	}
	plan, err := e.strategy.Plan(sctx, m, kind)
	if err != nil {
		return 0, err
	}

	qty := quantity(e.params.NumLots, e.cfg.Trading.LotSize)
	trade := &models.Trade{
		TradeDate:    e.day,
		StrategyType: kind,
		Expiry:       plan.Expiry,
		EntryTime:    m.Now,
		EntrySpot:    m.Spot,
		Status:       models.StatusOpen,
	}

	var credit float64
	for _, lp := range plan.Legs {
		fill, err := e.broker.Fill(lp.Symbol, lp.Side, qty, lp.Price)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrEntryRejected, err)
		}
		trade.Legs = append(trade.Legs, models.Leg{
			Symbol:       lp.Symbol,
			Strike:       lp.Strike,
			OptionType:   lp.OptionType,
			Side:         lp.Side,
			IsHedge:      lp.IsHedge,
			Quantity:     qty,
			EntryPrice:   fill.Price,
			CurrentPrice: fill.Price,
			Open:         true,
			IV:           lp.Greeks.IV,
			Delta:        lp.Greeks.Delta,
			Gamma:        lp.Greeks.Gamma,
		})
		switch {
		case !lp.IsHedge && lp.OptionType == models.TypeCE:
			trade.CEStrike = lp.Strike
		case !lp.IsHedge:
			trade.PEStrike = lp.Strike
		case lp.OptionType == models.TypeCE:
			trade.CEHedgeStrike = lp.Strike
		default:
			trade.PEHedgeStrike = lp.Strike
		}
		if lp.Side == models.SideSell {
			credit += fill.Price
		} else {
			credit -= fill.Price
		}
	}
	trade.PremiumCollected = credit * float64(qty)

	if err := e.store.CreateTrade(trade); err != nil {
		return 0, err
	}
	e.book[trade.ID] = newPosition(trade, 0)
	e.tradesToday++

	e.logger.Info("[PAPER] Trade opened",
		zap.Uint("trade_id", trade.ID),
		zap.String("plan", describePlan(plan)),
		zap.Float64("spot", m.Spot),
		zap.Float64("premium", trade.PremiumCollected),
	)
	e.metrics.TradeOpened(kind)
	e.updateGaugesLocked()
	if err := e.notifier.TradeOpened(ctx, trade); err != nil {
		e.logger.Warn("Failed to send trade alert", zap.Error(err))
	}
	return trade.ID, nil
}

// closeLegLocked buys back or sells out one leg at its last price.
func (e *Engine) closeLegLocked(leg *models.Leg, now time.Time) {
	price := leg.CurrentPrice
	if price <= 0 {
		price = leg.EntryPrice
	}
	side := models.SideBuy
	if leg.Side == models.SideBuy {
		side = models.SideSell
	}
	if fill, err := e.broker.Fill(leg.Symbol, side, leg.Quantity, price); err == nil {
		price = fill.Price
	}
	leg.CurrentPrice = price
	leg.ExitPrice = price
	leg.ExitTime = &now
	leg.Open = false
	if err := e.store.SaveLeg(leg); err != nil {
		e.logger.Error("Failed to save closed leg", zap.String("symbol", leg.Symbol), zap.Error(err))
	}
}

func (e *Engine) closePositionLocked(ctx context.Context, pos *Position, reason string) (float64, error) {
	now := e.clock()
	trade := pos.Trade
	for _, leg := range pos.OpenLegs() {
		e.closeLegLocked(leg, now)
	}
	trade.ExitTime = &now
	trade.Status = models.StatusClosed
	trade.CloseReason = reason
	trade.RealizedPnL = pos.MTM()

	delete(e.book, trade.ID)
	e.dailyPnL += trade.RealizedPnL
	err := e.store.SaveTrade(trade)

	e.logger.Info("[PAPER] Trade closed",
		zap.Uint("trade_id", trade.ID),
		zap.String("reason", reason),
		zap.Float64("pnl", trade.RealizedPnL),
		zap.Float64("daily_pnl", e.dailyPnL),
	)
	e.metrics.TradeClosed(reason)
	e.updateGaugesLocked()
	if nerr := e.notifier.TradeClosed(ctx, trade); nerr != nil {
		e.logger.Warn("Failed to send trade alert", zap.Error(nerr))
	}
	return trade.RealizedPnL, err
}

// ClosePosition closes every open leg of trade id and returns its realized P&L.
func (e *Engine) ClosePosition(ctx context.Context, id uint, reason string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.book[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrTradeNotFound, id)
	}
	if reason == "" {
		reason = ReasonManual
	}
	e.bestEffortMarkLocked(ctx)
	return e.closePositionLocked(ctx, pos, reason)
}

// CloseAllPositions closes the whole book and returns the total realized P&L.
func (e *Engine) CloseAllPositions(ctx context.Context, reason string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bestEffortMarkLocked(ctx)
	return e.closeAllLocked(ctx, reason)
}

func (e *Engine) bestEffortMarkLocked(ctx context.Context) {
	if len(e.book) == 0 {
		return
	}
	if err := e.refreshMarketLocked(ctx); err != nil {
		e.logger.Warn("Closing on last known prices", zap.Error(err))
		return
	}
	_ = e.markPositionsLocked(ctx)
}

func (e *Engine) closeAllLocked(ctx context.Context, reason string) (float64, error) {
	var total float64
	var errs []error
	for _, id := range e.openIDsLocked() {
		pnl, err := e.closePositionLocked(ctx, e.book[id], reason)
		total += pnl
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (e *Engine) openIDsLocked() []uint {
	ids := make([]uint, 0, len(e.book))
	for id := range e.book {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MonitorPositions runs one monitoring cycle: refresh, mark, kill switch,
// gamma defence and, when running, automatic entry.
func (e *Engine) MonitorPositions(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	e.rollDayLocked(now)
	if len(e.book) == 0 && !e.running {
		return nil
	}
	if err := e.refreshMarketLocked(ctx); err != nil {
		return fmt.Errorf("failed to refresh market: %w", err)
	}
	if err := e.markPositionsLocked(ctx); err != nil {
		e.logger.Warn("Marking incomplete", zap.Error(err))
	}

	if len(e.book) > 0 && e.dailyPnL+e.openMTMLocked() <= -e.params.MaxDailyLoss() {
		e.logger.Warn("Daily loss limit hit, closing all positions",
			zap.Float64("limit", e.params.MaxDailyLoss()),
			zap.Float64("pnl", e.dailyPnL+e.openMTMLocked()),
		)
		_, err := e.closeAllLocked(ctx, ReasonDailyLoss)
		e.running = false
		if nerr := e.notifier.Send(ctx, fmt.Sprintf("Kill switch: daily loss limit %.0f hit. Strategy stopped.", e.params.MaxDailyLoss())); nerr != nil {
			e.logger.Warn("Failed to send kill switch alert", zap.Error(nerr))
		}
		return err
	}

	sctx := e.sctx()
	for _, id := range e.openIDsLocked() {
		pos := e.book[id]
		if action := e.strategy.Defend(sctx, e.state, pos); action != nil {
			if err := e.applyActionLocked(ctx, pos, action); err != nil {
				e.logger.Error("Adjustment failed", zap.Uint("trade_id", id), zap.Error(err))
			}
		}
	}

	if e.running && len(e.book) == 0 && !now.Before(clockOn(now, e.cfg.Schedule.StrategyStart)) {
		e.autoEnterLocked(ctx, now)
	}
	e.updateGaugesLocked()
	return nil
}

func (e *Engine) autoEnterLocked(ctx context.Context, now time.Time) {
	if err := e.checkRiskLocked(now); err != nil {
		e.logger.Debug("No automatic entry", zap.Error(err))
		return
	}
	kind := models.KindGammaStrangle
	if sameDay(now, e.state.Expiry) {
		kind = models.KindExpiry
	}
	if _, err := e.enterLocked(ctx, kind); err != nil {
		if errors.Is(err, ErrEntryRejected) {
			e.logger.Debug("No automatic entry", zap.String("kind", kind), zap.Error(err))
			return
		}
		e.logger.Error("Automatic entry failed", zap.String("kind", kind), zap.Error(err))
	}
}

// applyActionLocked executes a defence action and records it.
func (e *Engine) applyActionLocked(ctx context.Context, pos *Position, a *Action) error {
	trade := pos.Trade
	now := e.clock()
	adj := &models.Adjustment{TradeID: trade.ID, Level: a.Level, Action: a.Describe(), Spot: e.state.Spot, At: now}

	if a.Kind == ActionClose {
		if a.Level > 0 {
			trade.AdjustmentLevel = max(trade.AdjustmentLevel, a.Level)
			e.recordAdjustmentLocked(ctx, trade, adj)
		}
		_, err := e.closePositionLocked(ctx, pos, a.Reason)
		return err
	}

	rp := a.Replacement
	fill, err := e.broker.Fill(rp.Symbol, rp.Side, a.Leg.Quantity, rp.Price)
	if err != nil {
		return err
	}
	qty := a.Leg.Quantity
	e.closeLegLocked(a.Leg, now)
	buyback := a.Leg.ExitPrice * float64(qty)

	leg := models.Leg{
		TradeID:      trade.ID,
		Symbol:       rp.Symbol,
		Strike:       rp.Strike,
		OptionType:   rp.OptionType,
		Side:         rp.Side,
		Quantity:     qty,
		EntryPrice:   fill.Price,
		CurrentPrice: fill.Price,
		Open:         true,
		IV:           rp.Greeks.IV,
		Delta:        rp.Greeks.Delta,
		Gamma:        rp.Greeks.Gamma,
	}
	if err := e.store.SaveLeg(&leg); err != nil {
		return err
	}
	trade.Legs = append(trade.Legs, leg)
	if rp.OptionType == models.TypeCE {
		trade.CEStrike = rp.Strike
	} else {
		trade.PEStrike = rp.Strike
	}
	trade.PremiumCollected += fill.Price*float64(qty) - buyback
	trade.AdjustmentLevel = max(trade.AdjustmentLevel, a.Level)
	pos.Adjustments++
	pos.rebase(e.state.Spot)
	if err := e.store.SaveTrade(trade); err != nil {
		return err
	}
	e.recordAdjustmentLocked(ctx, trade, adj)
	return nil
}

func (e *Engine) recordAdjustmentLocked(ctx context.Context, trade *models.Trade, adj *models.Adjustment) {
	e.logger.Info("[PAPER] Gamma adjustment",
		zap.Uint("trade_id", trade.ID),
		zap.Int("level", adj.Level),
		zap.String("action", adj.Action),
		zap.Float64("spot", adj.Spot),
	)
	if err := e.store.AddAdjustment(adj); err != nil {
		e.logger.Error("Failed to record adjustment", zap.Error(err))
	}
	e.metrics.Adjustment(adj.Level)
	if err := e.notifier.Adjusted(ctx, trade, adj); err != nil {
		e.logger.Warn("Failed to send adjustment alert", zap.Error(err))
	}
}

// ResetDay closes everything, stops the strategy and clears the daily counters.
func (e *Engine) ResetDay(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.bestEffortMarkLocked(ctx)
	pnl, err := e.closeAllLocked(ctx, ReasonReset)
	e.running = false
	e.dailyPnL = 0
	e.tradesToday = 0
	e.day = e.clock().Format(report.DateLayout)
	e.updateGaugesLocked()
	e.logger.Warn("Day reset, all positions closed", zap.Float64("pnl", pnl))
	return pnl, err
}

// GenerateEODSummary stores today's summary and returns the report to send.
func (e *Engine) GenerateEODSummary(ctx context.Context) (notify.EODReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	day := e.clock().Format(report.DateLayout)
	trades, err := e.store.TradesOn(day)
	if err != nil {
		return notify.EODReport{}, err
	}
	summary := report.Summarize(day, trades)
	if err := e.store.UpsertDailySummary(&summary); err != nil {
		return notify.EODReport{}, err
	}
	e.logger.Info("EOD summary generated",
		zap.String("date", day),
		zap.Int("trades", summary.TotalTrades),
		zap.Float64("net_pnl", summary.NetPnL),
	)
	return notify.EODReport{
		Summary: summary,
		Trades:  lo.Filter(trades, func(t models.Trade, _ int) bool { return !t.IsOpen() }),
	}, nil
}

func (e *Engine) openMTMLocked() float64 {
	return lo.SumBy(lo.Values(e.book), func(p *Position) float64 { return p.MTM() })
}

// CalculateMTM is the mark-to-market P&L of all open trades.
func (e *Engine) CalculateMTM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openMTMLocked()
}

func (e *Engine) netDeltaLocked() float64 {
	lotSize := float64(e.cfg.Trading.LotSize)
	var delta float64
	for _, pos := range e.book {
		for _, leg := range pos.OpenLegs() {
			delta += leg.Sign() * leg.Delta * float64(leg.Quantity) / lotSize
		}
	}
	return delta
}

// NetDelta is the book's delta in lots.
func (e *Engine) NetDelta() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.netDeltaLocked()
}

// gammaRiskLocked scores the book 0-100 from how close the short legs are to
// the L2 delta limit and how much a 1% move would cost against the daily
// loss limit.
func (e *Engine) gammaRiskLocked() float64 {
	if len(e.book) == 0 {
		return 0
	}
	var maxShortDelta, gamma float64
	for _, pos := range e.book {
		for _, leg := range pos.OpenLegs() {
			if leg.Side == models.SideSell {
				maxShortDelta = math.Max(maxShortDelta, math.Abs(leg.Delta))
			}
			gamma += leg.Sign() * leg.Gamma * float64(leg.Quantity)
		}
	}
	deltaFrac := 0.0
	if limit := e.cfg.Strategy.GammaL2Delta / 100; limit > 0 {
		deltaFrac = math.Min(1, maxShortDelta/limit)
	}
	gammaFrac := 0.0
	if maxLoss := e.params.MaxDailyLoss(); maxLoss > 0 {
		move := 0.01 * e.state.Spot
		gammaFrac = math.Min(1, math.Abs(0.5*gamma*move*move)/maxLoss)
	}
	return math.Min(100, 100*(0.6*deltaFrac+0.4*gammaFrac))
}

// GammaRiskScore is a 0-100 measure of the book's exposure to a fast move.
func (e *Engine) GammaRiskScore() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gammaRiskLocked()
}

func (e *Engine) updateGaugesLocked() {
	e.metrics.Book(e.dailyPnL+e.openMTMLocked(), len(e.book), e.gammaRiskLocked())
}

// MarginEstimate is the broker margin for the next entry.
type MarginEstimate struct {
	Spot         float64           `json:"spot"`
	Lots         int               `json:"lots"`
	Quantity     int               `json:"quantity"`
	Legs         []fyers.MarginLeg `json:"legs"`
	Required     float64           `json:"required"`
	Naked        float64           `json:"naked"`
	HedgeBenefit float64           `json:"hedge_benefit"`
	Span         float64           `json:"span"`
	Exposure     float64           `json:"exposure"`
	Utilisation  float64           `json:"utilisation_pct"`
}

func marginOf(r *fyers.MarginResult) float64 {
	if r.NewOrder > 0 {
		return r.NewOrder
	}
	return r.Total
}

// MarginRequired asks the broker for the margin of the strangle the strategy
// would enter now, with and without hedges.
func (e *Engine) MarginRequired(ctx context.Context) (*MarginEstimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.refreshMarketLocked(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh market: %w", err)
	}
	plan, err := e.strategy.Plan(e.sctx(), e.state, models.KindGammaStrangle)
	if err != nil {
		return nil, err
	}

	qty := quantity(e.params.NumLots, e.cfg.Trading.LotSize)
	toMargin := func(l LegPlan) fyers.MarginLeg {
		side := 1
		if l.Side == models.SideSell {
			side = -1
		}
		return fyers.MarginLeg{Symbol: l.Symbol, Qty: qty, Side: side}
	}
	hedged := lo.Map(plan.Legs, func(l LegPlan, _ int) fyers.MarginLeg { return toMargin(l) })
	res, err := e.market.Margin(ctx, hedged)
	if err != nil {
		return nil, err
	}

	est := &MarginEstimate{
		Spot:     e.state.Spot,
		Lots:     e.params.NumLots,
		Quantity: qty,
		Legs:     hedged,
		Required: marginOf(res),
		Span:     res.Span,
		Exposure: res.Exposure,
	}

	shorts := lo.Filter(plan.Legs, func(l LegPlan, _ int) bool { return !l.IsHedge })
	naked, err := e.market.Margin(ctx, lo.Map(shorts, func(l LegPlan, _ int) fyers.MarginLeg { return toMargin(l) }))
	if err != nil {
		e.logger.Warn("Could not get naked margin", zap.Error(err))
	} else {
		est.Naked = marginOf(naked)
		est.HedgeBenefit = math.Max(0, est.Naked-est.Required)
	}
	if e.params.Capital > 0 {
		est.Utilisation = est.Required / e.params.Capital * 100
	}
	return est, nil
}

// LegView is one leg as shown on the live terminal.
type LegView struct {
	Symbol     string  `json:"symbol"`
	Strike     float64 `json:"strike"`
	OptionType string  `json:"option_type"`
	Side       string  `json:"side"`
	IsHedge    bool    `json:"is_hedge"`
	Quantity   int     `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	LTP        float64 `json:"ltp"`
	PnL        float64 `json:"pnl"`
	IV         float64 `json:"iv"`
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
}

// PositionView is one open trade as shown on the live terminal.
type PositionView struct {
	TradeID         uint      `json:"trade_id"`
	StrategyType    string    `json:"strategy_type"`
	EntryTime       time.Time `json:"entry_time"`
	EntrySpot       float64   `json:"entry_spot"`
	Premium         float64   `json:"premium"`
	MTM             float64   `json:"mtm"`
	Adjustments     int       `json:"adjustments"`
	AdjustmentLevel int       `json:"adjustment_level"`
	Legs            []LegView `json:"legs"`
}

// Snapshot is the live state pushed to the dashboard.
type Snapshot struct {
	Time            time.Time      `json:"time"`
	Running         bool           `json:"running"`
	Strategy        string         `json:"strategy"`
	Spot            float64        `json:"spot"`
	VWAP            float64        `json:"vwap"`
	Supertrend      string         `json:"supertrend"`
	SupertrendValue float64        `json:"supertrend_value"`
	Expiry          string         `json:"expiry,omitempty"`
	DailyPnL        float64        `json:"daily_pnl"`
	MTM             float64        `json:"mtm"`
	TradesToday     int            `json:"trades_today"`
	NetDelta        float64        `json:"net_delta"`
	GammaRisk       float64        `json:"gamma_risk"`
	Params          Params         `json:"params"`
	Positions       []PositionView `json:"positions"`
	LastUpdate      time.Time      `json:"last_update"`
	LastError       string         `json:"last_error,omitempty"`
}

func (e *Engine) positionsLocked() []PositionView {
	views := make([]PositionView, 0, len(e.book))
	for _, id := range e.openIDsLocked() {
		pos := e.book[id]
		t := pos.Trade
		v := PositionView{
			TradeID:         t.ID,
			StrategyType:    t.StrategyType,
			EntryTime:       t.EntryTime,
			EntrySpot:       t.EntrySpot,
			Premium:         t.PremiumCollected,
			MTM:             pos.MTM(),
			Adjustments:     pos.Adjustments,
			AdjustmentLevel: t.AdjustmentLevel,
		}
		for _, l := range pos.OpenLegs() {
			v.Legs = append(v.Legs, LegView{
				Symbol:     l.Symbol,
				Strike:     l.Strike,
				OptionType: l.OptionType,
				Side:       l.Side,
				IsHedge:    l.IsHedge,
				Quantity:   l.Quantity,
				EntryPrice: l.EntryPrice,
				LTP:        l.CurrentPrice,
				PnL:        l.PnL(),
				IV:         l.IV,
				Delta:      l.Delta,
				Gamma:      l.Gamma,
			})
		}
		views = append(views, v)
	}
	return views
}

// Positions returns the open book.
func (e *Engine) Positions() []PositionView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionsLocked()
}

// Snapshot returns the current live state without touching the market.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	mtm := e.openMTMLocked()
	s := Snapshot{
		Time:            e.clock(),
		Running:         e.running,
		Strategy:        e.strategy.Name(),
		Spot:            e.state.Spot,
		VWAP:            e.state.VWAP,
		Supertrend:      string(e.state.Supertrend),
		SupertrendValue: e.state.SupertrendValue,
		DailyPnL:        e.dailyPnL + mtm,
		MTM:             mtm,
		TradesToday:     e.tradesToday,
		NetDelta:        e.netDeltaLocked(),
		GammaRisk:       e.gammaRiskLocked(),
		Params:          e.params,
		Positions:       e.positionsLocked(),
		LastUpdate:      e.lastUpdate,
		LastError:       e.lastError,
	}
	if !e.state.Expiry.IsZero() {
		s.Expiry = e.state.Expiry.Format(report.DateLayout)
	}
	return s
}
