package models

import (
	"time"

	"gorm.io/gorm"
)

// Adjustment records a gamma-defence action taken on a trade.
type Adjustment struct {
	gorm.Model
	TradeID uint      `gorm:"index" json:"trade_id"`
	Level   int       `json:"level"`
	Action  string    `json:"action"`
	Spot    float64   `json:"spot"`
	At      time.Time `json:"at"`
}
