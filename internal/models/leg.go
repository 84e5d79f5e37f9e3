package models

import (
	"time"

	"gorm.io/gorm"
)

// Option sides and types.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
	TypeCE   = "CE"
	TypePE   = "PE"
)

// Leg is a single simulated option position belonging to a Trade.
type Leg struct {
	gorm.Model
	TradeID      uint       `gorm:"index" json:"trade_id"`
	Symbol       string     `json:"symbol"`
	Strike       float64    `json:"strike"`
	OptionType   string     `json:"option_type"`
	Side         string     `json:"side"`
	IsHedge      bool       `json:"is_hedge"`
	Quantity     int        `json:"quantity"`
	EntryPrice   float64    `json:"entry_price"`
	CurrentPrice float64    `json:"current_price"`
	ExitPrice    float64    `json:"exit_price"`
	ExitTime     *time.Time `json:"exit_time,omitempty"`
	Open         bool       `json:"open"`

	// Live greeks, recomputed on every mark and never stored.
	IV    float64 `gorm:"-" json:"iv"`
	Delta float64 `gorm:"-" json:"delta"`
	Gamma float64 `gorm:"-" json:"gamma"`
}

// Sign returns -1 for short legs and +1 for long legs.
func (l *Leg) Sign() float64 {
	if l.Side == SideSell {
		return -1
	}
	return 1
}

// PnL is the mark-to-market profit of the leg at its current (or exit) price.
func (l *Leg) PnL() float64 {
	price := l.CurrentPrice
	if !l.Open {
		price = l.ExitPrice
	}
	return (price - l.EntryPrice) * l.Sign() * float64(l.Quantity)
}
