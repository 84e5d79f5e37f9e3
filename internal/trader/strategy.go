package trader

import (
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/greeks"
	"nifty-paper-terminal/internal/indicators"
	"nifty-paper-terminal/internal/models"

	"go.uber.org/zap"
)

// StrategyContext provides the strategy with access to the core components.
type StrategyContext struct {
	Logger *zap.Logger
	Cfg    *config.Config
	Loc    *time.Location
}

// MarketState is the market picture a strategy decides on.
type MarketState struct {
	Now             time.Time
	Spot            float64
	Supertrend      indicators.Direction
	SupertrendValue float64
	VWAP            float64
	Expiry          time.Time
	Chain           *fyers.OptionChain
}

// LegPlan is one leg the strategy wants opened at the given price.
type LegPlan struct {
	Symbol     string
	Strike     float64
	OptionType string
	Side       string
	IsHedge    bool
	Price      float64
	Greeks     greeks.Greeks
}

// EntryPlan is a full entry: the short strangle plus its hedges.
type EntryPlan struct {
	Kind   string
	Expiry time.Time
	Legs   []LegPlan
}

// Action kinds returned by Defend.
const (
	ActionRoll  = "ROLL"
	ActionShift = "SHIFT"
	ActionClose = "CLOSE"
)

// Action is a single defence step for an open position.
type Action struct {
	Level       int
	Kind        string
	Leg         *models.Leg // leg to close for ROLL and SHIFT
	Replacement *LegPlan    // leg to open in its place
	Reason      string      // close reason for CLOSE
}

// Describe is the adjustment text stored and alerted.
func (a *Action) Describe() string {
	switch a.Kind {
	case ActionClose:
		return "CLOSE " + a.Reason
	default:
		desc := a.Kind + " " + a.Leg.OptionType
		if a.Replacement != nil {
			desc += " " + formatStrike(a.Leg.Strike) + "->" + formatStrike(a.Replacement.Strike)
		}
		return desc
	}
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize(ctx StrategyContext) error

	// CheckEntry reports why an entry of kind is not allowed right now.
	CheckEntry(ctx StrategyContext, m MarketState, kind string) error

	// Plan selects the legs of an entry of kind.
	Plan(ctx StrategyContext, m MarketState, kind string) (*EntryPlan, error)

	// Defend returns the next action for an open position, or nil.
	Defend(ctx StrategyContext, m MarketState, pos *Position) *Action
}
