package trader

import (
	"fmt"
	"math"

	"nifty-paper-terminal/internal/indicators"
	"nifty-paper-terminal/internal/models"

	"go.uber.org/zap"
)

// GammaStrangle sells a hedged weekly strangle on the index and defends it
// in three escalating levels as the spot moves toward a short strike.
type GammaStrangle struct{}

// NewGammaStrangle creates the strategy.
func NewGammaStrangle() *GammaStrangle {
	return &GammaStrangle{}
}

func (s *GammaStrangle) Name() string {
	return "GammaStrangle"
}

func (s *GammaStrangle) Initialize(ctx StrategyContext) error {
	sc := ctx.Cfg.Strategy
	if sc.CEDeltaTarget <= 0 || sc.PEDeltaTarget >= 0 {
		return fmt.Errorf("invalid delta targets: CE %.2f must be positive and PE %.2f negative", sc.CEDeltaTarget, sc.PEDeltaTarget)
	}
	if sc.HedgeDeltaTarget <= 0 || sc.HedgeDeltaTarget >= sc.CEDeltaTarget {
		return fmt.Errorf("hedge delta %.2f must be between 0 and the short delta", sc.HedgeDeltaTarget)
	}
	ctx.Logger.Info("GammaStrangle initialized",
		zap.Float64("ce_delta", sc.CEDeltaTarget),
		zap.Float64("pe_delta", sc.PEDeltaTarget),
		zap.Float64("hedge_delta", sc.HedgeDeltaTarget),
		zap.Int("supertrend_period", sc.SupertrendPeriod),
		zap.Float64("supertrend_mult", sc.SupertrendMult),
	)
	return nil
}

func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEntryRejected, fmt.Sprintf(format, args...))
}

func (s *GammaStrangle) CheckEntry(ctx StrategyContext, m MarketState, kind string) error {
	sc := ctx.Cfg.Strategy
	if m.Spot <= 0 {
		return rejected("no spot price")
	}

	switch kind {
	case models.KindGammaStrangle:
		if m.Supertrend == indicators.Neutral || m.Supertrend == "" {
			return rejected("supertrend is neutral")
		}
		if m.VWAP > 0 {
			if stretch := math.Abs(m.Spot-m.VWAP) / m.VWAP; stretch > sc.GammaL1SpotMove {
				return rejected("spot %.2f is %.2f%% away from VWAP %.2f", m.Spot, stretch*100, m.VWAP)
			}
		}
	case models.KindExpiry:
		if !sameDay(m.Now, m.Expiry) {
			return rejected("today is not an expiry day")
		}
		if m.Now.Before(clockOn(m.Now, sc.ExpiryEntryAfter)) {
			return rejected("expiry entries open at %s", sc.ExpiryEntryAfter)
		}
	default:
		return rejected("unknown strategy type %q", kind)
	}
	return nil
}

func (s *GammaStrangle) Plan(ctx StrategyContext, m MarketState, kind string) (*EntryPlan, error) {
	sc := ctx.Cfg.Strategy
	calls := priceChain(m, models.TypeCE, sc.RiskFreeRate)
	puts := priceChain(m, models.TypePE, sc.RiskFreeRate)
	if len(calls) == 0 || len(puts) == 0 {
		return nil, rejected("option chain has no priced contracts")
	}

	var ce, pe pricedContract
	var okCE, okPE bool
	if kind == models.KindExpiry {
		atm := atmStrike(m.Spot, ctx.Cfg.Trading.StrikeStep)
		ce, okCE = byStrike(calls, atm+sc.ExpiryOTMOffset)
		pe, okPE = byStrike(puts, atm-sc.ExpiryOTMOffset)
	} else {
		ce, okCE = nearestByDelta(calls, sc.CEDeltaTarget, func(c pricedContract) bool { return c.Strike > m.Spot })
		pe, okPE = nearestByDelta(puts, sc.PEDeltaTarget, func(c pricedContract) bool { return c.Strike < m.Spot })
	}
	if !okCE || !okPE {
		return nil, rejected("no short strikes found for %s", kind)
	}

	ceHedge, okCE := nearestByDelta(calls, sc.HedgeDeltaTarget, func(c pricedContract) bool { return c.Strike > ce.Strike })
	peHedge, okPE := nearestByDelta(puts, -sc.HedgeDeltaTarget, func(c pricedContract) bool { return c.Strike < pe.Strike })
	if !okCE || !okPE {
		return nil, rejected("no hedge strikes beyond %s CE / %s PE", formatStrike(ce.Strike), formatStrike(pe.Strike))
	}

	plan := &EntryPlan{
		Kind:   kind,
		Expiry: m.Expiry,
		Legs: []LegPlan{
			legPlan(ce, models.SideSell, false),
			legPlan(pe, models.SideSell, false),
			legPlan(ceHedge, models.SideBuy, true),
			legPlan(peHedge, models.SideBuy, true),
		},
	}
	if netCredit(plan.Legs) <= 0 {
		return nil, rejected("hedged strangle has no net credit")
	}
	return plan, nil
}

func (s *GammaStrangle) Defend(ctx StrategyContext, m MarketState, pos *Position) *Action {
	sc := ctx.Cfg.Strategy
	trade := pos.Trade
	if m.Spot <= 0 || trade.EntrySpot <= 0 {
		return nil
	}

	if trade.StrategyType == models.KindExpiry && trade.PremiumCollected > 0 {
		pnl := pos.MTM()
		if pnl >= sc.ExpiryTargetPct*trade.PremiumCollected {
			return &Action{Kind: ActionClose, Reason: ReasonTarget}
		}
		if pnl <= -sc.ExpiryStopMult*trade.PremiumCollected {
			return &Action{Kind: ActionClose, Reason: ReasonStopLoss}
		}
	}

	// L3: a fast move soon after entry closes the trade outright.
	move := math.Abs(m.Spot-trade.EntrySpot) / trade.EntrySpot
	if pos.Age(m.Now).Minutes() <= float64(sc.GammaL3Minutes) && move >= sc.GammaL3SpotMove {
		return &Action{Level: 3, Kind: ActionClose, Reason: ReasonGammaL3}
	}

	tested := pos.TestedSide(m.Spot)
	testedLeg := pos.ShortLeg(tested)

	var action *Action
	if testedLeg != nil && math.Abs(testedLeg.Delta)*100 > sc.GammaL2Delta {
		action = s.shift(ctx, m, testedLeg)
	} else {
		refMove := 0.0
		if pos.RefSpot > 0 {
			refMove = math.Abs(m.Spot-pos.RefSpot) / pos.RefSpot
		}
		premiumUp := false
		if testedLeg != nil {
			ref := pos.RefPrice(testedLeg)
			premiumUp = ref > 0 && testedLeg.CurrentPrice >= ref*(1+sc.GammaL1Premium)
		}
		if refMove >= sc.GammaL1SpotMove || premiumUp {
			if untested := pos.ShortLeg(otherSide(tested)); untested != nil {
				action = s.roll(ctx, m, untested)
			}
		}
	}
	if action == nil {
		return nil
	}
	if pos.Adjustments >= ctx.Cfg.Trading.MaxAdjustments {
		return &Action{Level: action.Level, Kind: ActionClose, Reason: ReasonMaxAdjustments}
	}
	return action
}

func (s *GammaStrangle) shortTarget(ctx StrategyContext, optionType string) float64 {
	if optionType == models.TypeCE {
		return ctx.Cfg.Strategy.CEDeltaTarget
	}
	return ctx.Cfg.Strategy.PEDeltaTarget
}

// roll (L1) moves the untested short back to the target delta, which brings
// it toward the spot and collects fresh premium.
func (s *GammaStrangle) roll(ctx StrategyContext, m MarketState, leg *models.Leg) *Action {
	contracts := priceChain(m, leg.OptionType, ctx.Cfg.Strategy.RiskFreeRate)
	c, ok := nearestByDelta(contracts, s.shortTarget(ctx, leg.OptionType), func(c pricedContract) bool {
		if leg.OptionType == models.TypeCE {
			return c.Strike > m.Spot
		}
		return c.Strike < m.Spot
	})
	if !ok || c.Strike == leg.Strike {
		return nil
	}
	plan := legPlan(c, models.SideSell, false)
	return &Action{Level: 1, Kind: ActionRoll, Leg: leg, Replacement: &plan}
}

// shift (L2) buys back the tested short and sells the target delta further
// out. With nothing further out the trade is closed.
func (s *GammaStrangle) shift(ctx StrategyContext, m MarketState, leg *models.Leg) *Action {
	contracts := priceChain(m, leg.OptionType, ctx.Cfg.Strategy.RiskFreeRate)
	c, ok := nearestByDelta(contracts, s.shortTarget(ctx, leg.OptionType), func(c pricedContract) bool {
		if leg.OptionType == models.TypeCE {
			return c.Strike > leg.Strike
		}
		return c.Strike < leg.Strike
	})
	if !ok {
		return &Action{Level: 2, Kind: ActionClose, Reason: ReasonGammaL2}
	}
	plan := legPlan(c, models.SideSell, false)
	return &Action{Level: 2, Kind: ActionShift, Leg: leg, Replacement: &plan}
}
