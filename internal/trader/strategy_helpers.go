package trader

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/greeks"
	"nifty-paper-terminal/internal/models"
)

// pricedContract is a chain row with its greeks.
type pricedContract struct {
	fyers.OptionContract
	Greeks greeks.Greeks
}

// priceChain computes greeks for every contract of optionType with a price.
func priceChain(m MarketState, optionType string, r float64) []pricedContract {
	if m.Chain == nil || m.Spot <= 0 {
		return nil
	}
	t := greeks.YearsToExpiry(m.Now, m.Expiry)
	kind := greeks.KindOf(optionType)

	var out []pricedContract
	for _, c := range m.Chain.Contracts {
		if c.OptionType != optionType || c.LTP <= 0 {
			continue
		}
		g, err := greeks.FromPrice(kind, c.LTP, m.Spot, c.Strike, t, r)
		if err != nil {
			continue
		}
		out = append(out, pricedContract{OptionContract: c, Greeks: g})
	}
	return out
}

// nearestByDelta picks the contract whose delta is closest to target among
// those accepted by keep. It returns false when nothing qualifies.
func nearestByDelta(contracts []pricedContract, target float64, keep func(pricedContract) bool) (pricedContract, bool) {
	var best pricedContract
	bestDiff := math.Inf(1)
	found := false
	for _, c := range contracts {
		if keep != nil && !keep(c) {
			continue
		}
		diff := math.Abs(c.Greeks.Delta - target)
		if diff < bestDiff {
			best, bestDiff, found = c, diff, true
		}
	}
	return best, found
}

// byStrike finds the contract at strike.
func byStrike(contracts []pricedContract, strike float64) (pricedContract, bool) {
	for _, c := range contracts {
		if c.Strike == strike {
			return c, true
		}
	}
	return pricedContract{}, false
}

// atmStrike rounds spot to the nearest strike step.
func atmStrike(spot, step float64) float64 {
	if step <= 0 {
		return spot
	}
	return math.Round(spot/step) * step
}

func legPlan(c pricedContract, side string, hedge bool) LegPlan {
	return LegPlan{
		Symbol:     c.Symbol,
		Strike:     c.Strike,
		OptionType: c.OptionType,
		Side:       side,
		IsHedge:    hedge,
		Price:      c.LTP,
		Greeks:     c.Greeks,
	}
}

// quantity is the number of units per leg.
func quantity(lots, lotSize int) int {
	return lots * lotSize
}

// netCredit is the premium received for a set of legs, per unit.
func netCredit(legs []LegPlan) float64 {
	var credit float64
	for _, l := range legs {
		if l.Side == models.SideSell {
			credit += l.Price
		} else {
			credit -= l.Price
		}
	}
	return credit
}

// clockOn returns the wall-clock time hhmm on the day of t, in t's location.
func clockOn(t time.Time, hhmm string) time.Time {
	h, m, err := config.ParseClock(hhmm)
	if err != nil {
		return t
	}
	y, mo, d := t.Date()
	return time.Date(y, mo, d, h, m, 0, 0, t.Location())
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

func formatStrike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}

func describePlan(p *EntryPlan) string {
	s := p.Kind
	for _, l := range p.Legs {
		s += fmt.Sprintf(" %s %s%s@%.2f", l.Side, formatStrike(l.Strike), l.OptionType, l.Price)
	}
	return s
}
