package notify

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"nifty-paper-terminal/internal/models"

	"github.com/olekukonko/tablewriter"
)

// EODReport is the end-of-day roll-up sent after the close.
type EODReport struct {
	Summary models.DailySummary
	Trades  []models.Trade
}

func strikes(t *models.Trade) string {
	return fmt.Sprintf("%.0f CE / %.0f PE", t.CEStrike, t.PEStrike)
}

// TradeOpenedMessage formats the alert for a new trade.
func TradeOpenedMessage(t *models.Trade) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Trade #%d opened: %s\n", t.ID, t.StrategyType)
	fmt.Fprintf(&sb, "Sell %s\n", strikes(t))
	if t.CEHedgeStrike > 0 || t.PEHedgeStrike > 0 {
		fmt.Fprintf(&sb, "Hedges %.0f CE / %.0f PE\n", t.CEHedgeStrike, t.PEHedgeStrike)
	}
	fmt.Fprintf(&sb, "Spot %.2f | Premium %.2f | Expiry %s",
		t.EntrySpot, t.PremiumCollected, t.Expiry.Format("02-Jan"))
	return sb.String()
}

// TradeClosedMessage formats the alert for a closed trade.
func TradeClosedMessage(t *models.Trade) string {
	return fmt.Sprintf("Trade #%d closed (%s): %s\nP&L %+.2f",
		t.ID, t.CloseReason, strikes(t), t.RealizedPnL)
}

// AdjustmentMessage formats the alert for a gamma defence action.
func AdjustmentMessage(t *models.Trade, adj *models.Adjustment) string {
	return fmt.Sprintf("Gamma defence L%d on trade #%d: %s\nSpot %.2f",
		adj.Level, t.ID, adj.Action, adj.Spot)
}

// EODMessage formats the end-of-day summary with a per-trade table.
func EODMessage(r EODReport) string {
	s := r.Summary
	var sb strings.Builder
	fmt.Fprintf(&sb, "EOD report %s\n", s.TradeDate)
	fmt.Fprintf(&sb, "Trades %d | Wins %d | Win rate %.1f%%\n", s.TotalTrades, s.WinningTrades, s.WinRate)
	fmt.Fprintf(&sb, "Net P&L %+.2f | Max drawdown %.2f", s.NetPnL, s.MaxDrawdown)
	if len(r.Trades) == 0 {
		return sb.String()
	}

	buffer := bytes.NewBuffer(nil)
	table := tablewriter.NewWriter(buffer)
	table.SetHeader([]string{"#", "Type", "Strikes", "Adj", "Reason", "P&L"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for i := range r.Trades {
		t := &r.Trades[i]
		table.Append([]string{
			strconv.FormatUint(uint64(t.ID), 10),
			t.StrategyType,
			fmt.Sprintf("%.0f/%.0f", t.CEStrike, t.PEStrike),
			strconv.Itoa(t.AdjustmentLevel),
			t.CloseReason,
			fmt.Sprintf("%+.2f", t.RealizedPnL),
		})
	}
	table.Render()

	sb.WriteString("\n\n")
	sb.WriteString(buffer.String())
	return sb.String()
}
