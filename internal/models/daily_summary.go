package models

import "gorm.io/gorm"

// DailySummary is the end-of-day roll-up persisted by the EOD job.
type DailySummary struct {
	gorm.Model
	TradeDate     string  `gorm:"uniqueIndex" json:"trade_date"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	NetPnL        float64 `json:"net_pnl"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	WinRate       float64 `json:"win_rate"` // percent
}
