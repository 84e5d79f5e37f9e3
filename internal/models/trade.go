package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade statuses.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Strategy kinds.
const (
	KindGammaStrangle = "GAMMA_STRANGLE"
	KindExpiry        = "EXPIRY"
)

// Trade is one paper strangle entry with its hedges.
type Trade struct {
	gorm.Model
	TradeDate        string     `gorm:"index" json:"trade_date"` // YYYY-MM-DD in exchange time
	StrategyType     string     `json:"strategy_type"`
	Expiry           time.Time  `json:"expiry"`
	EntryTime        time.Time  `json:"entry_time"`
	ExitTime         *time.Time `json:"exit_time,omitempty"`
	EntrySpot        float64    `json:"entry_spot"`
	CEStrike         float64    `json:"ce_strike"`
	PEStrike         float64    `json:"pe_strike"`
	CEHedgeStrike    float64    `json:"ce_hedge_strike"`
	PEHedgeStrike    float64    `json:"pe_hedge_strike"`
	PremiumCollected float64    `json:"premium_collected"`
	RealizedPnL      float64    `json:"realized_pnl"`
	Status           string     `gorm:"index" json:"status"`
	CloseReason      string     `json:"close_reason,omitempty"`
	AdjustmentLevel  int        `json:"adjustment_level"`
	Legs             []Leg      `json:"legs,omitempty"`
}

// IsOpen reports whether the trade still has open legs.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}
