package trader

import (
	"time"

	"nifty-paper-terminal/internal/models"
)

// Position is an open trade held in the engine's book.
type Position struct {
	Trade *models.Trade

	// RefSpot is the spot at entry or at the last adjustment; L1 measures
	// the spot move from here.
	RefSpot     float64
	Adjustments int

	// refPrices holds each short leg's price at the last adjustment, by symbol.
	refPrices map[string]float64
}

func newPosition(trade *models.Trade, adjustments int) *Position {
	return &Position{Trade: trade, RefSpot: trade.EntrySpot, Adjustments: adjustments}
}

// RefPrice is the premium L1 measures expansion from: the leg's price at
// the last adjustment, or its entry price before any.
func (p *Position) RefPrice(leg *models.Leg) float64 {
	if ref, ok := p.refPrices[leg.Symbol]; ok {
		return ref
	}
	return leg.EntryPrice
}

// rebase moves the L1 references to the current spot and short-leg prices.
func (p *Position) rebase(spot float64) {
	p.RefSpot = spot
	p.refPrices = make(map[string]float64)
	for _, l := range p.OpenLegs() {
		if l.IsHedge || l.Side != models.SideSell {
			continue
		}
		price := l.CurrentPrice
		if price <= 0 {
			price = l.EntryPrice
		}
		p.refPrices[l.Symbol] = price
	}
}

// OpenLegs returns the legs that are still open.
func (p *Position) OpenLegs() []*models.Leg {
	var legs []*models.Leg
	for i := range p.Trade.Legs {
		if p.Trade.Legs[i].Open {
			legs = append(legs, &p.Trade.Legs[i])
		}
	}
	return legs
}

// ShortLeg returns the open sold (non-hedge) leg of optionType, if any.
func (p *Position) ShortLeg(optionType string) *models.Leg {
	for _, l := range p.OpenLegs() {
		if !l.IsHedge && l.Side == models.SideSell && l.OptionType == optionType {
			return l
		}
	}
	return nil
}

// HedgeLeg returns the open bought hedge of optionType, if any.
func (p *Position) HedgeLeg(optionType string) *models.Leg {
	for _, l := range p.OpenLegs() {
		if l.IsHedge && l.OptionType == optionType {
			return l
		}
	}
	return nil
}

// MTM is the P&L of every leg of the trade, open legs at their current
// price and closed legs at their exit.
func (p *Position) MTM() float64 {
	var pnl float64
	for i := range p.Trade.Legs {
		pnl += p.Trade.Legs[i].PnL()
	}
	return pnl
}

// Age is the time since entry.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Trade.EntryTime)
}

// TestedSide is the short side the spot has moved toward since entry.
func (p *Position) TestedSide(spot float64) string {
	if spot >= p.Trade.EntrySpot {
		return models.TypeCE
	}
	return models.TypePE
}

func otherSide(optionType string) string {
	if optionType == models.TypeCE {
		return models.TypePE
	}
	return models.TypeCE
}
