package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nifty-paper-terminal/internal/models"

	"github.com/olekukonko/tablewriter"
)

var tradeLogHeader = []string{
	"ID", "Date", "Type", "Entry Time", "Exit Time", "CE Strike", "PE Strike",
	"Premium", "Realised P&L", "Status", "Close Reason", "Adj Level", "Adjustments",
}

func clock(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("15:04:05")
}

func describeAdjustments(adjs []models.Adjustment) string {
	if len(adjs) == 0 {
		return "-"
	}
	parts := make([]string, len(adjs))
	for i, a := range adjs {
		parts[i] = fmt.Sprintf("L%d: %s", a.Level, a.Action)
	}
	return strings.Join(parts, "; ")
}

func tradeLogRow(t models.Trade, adjs []models.Adjustment) []string {
	entry := t.EntryTime
	reason := t.CloseReason
	if reason == "" {
		reason = "-"
	}
	return []string{
		strconv.FormatUint(uint64(t.ID), 10),
		t.TradeDate,
		t.StrategyType,
		clock(&entry),
		clock(t.ExitTime),
		strconv.FormatFloat(t.CEStrike, 'f', 0, 64),
		strconv.FormatFloat(t.PEStrike, 'f', 0, 64),
		strconv.FormatFloat(t.PremiumCollected, 'f', 0, 64),
		fmt.Sprintf("%+.0f", t.RealizedPnL),
		t.Status,
		reason,
		strconv.Itoa(t.AdjustmentLevel),
		describeAdjustments(adjs),
	}
}

// WriteTradeLogCSV writes the trade log with a header row. adjustments is
// keyed by trade id.
func WriteTradeLogCSV(w io.Writer, trades []models.Trade, adjustments map[uint][]models.Adjustment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeLogHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write(tradeLogRow(t, adjustments[t.ID])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)
	return table
}

// RenderDaily writes daily summaries as a text table.
func RenderDaily(w io.Writer, summaries []models.DailySummary) {
	table := newTable(w, []string{"Date", "Trades", "Wins", "Net P&L", "Max DD", "Win %"})
	var net float64
	var trades, wins int
	for _, s := range summaries {
		table.Append([]string{
			s.TradeDate,
			strconv.Itoa(s.TotalTrades),
			strconv.Itoa(s.WinningTrades),
			fmt.Sprintf("%+.2f", s.NetPnL),
			fmt.Sprintf("%.2f", s.MaxDrawdown),
			fmt.Sprintf("%.1f %%", s.WinRate),
		})
		net += s.NetPnL
		trades += s.TotalTrades
		wins += s.WinningTrades
	}
	winRate := 0.0
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}
	table.SetFooter([]string{"TOTAL", strconv.Itoa(trades), strconv.Itoa(wins), fmt.Sprintf("%+.2f", net), "", fmt.Sprintf("%.1f %%", winRate)})
	table.Render()
}

// RenderWeekly writes weekly rows as a text table.
func RenderWeekly(w io.Writer, rows []WeeklyRow) {
	table := newTable(w, []string{"Year", "Week", "Trades", "Wins", "Net P&L", "Win %"})
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Week),
			strconv.Itoa(r.Trades),
			strconv.Itoa(r.Wins),
			fmt.Sprintf("%+.2f", r.NetPnL),
			fmt.Sprintf("%.0f %%", r.WinRate),
		})
	}
	table.Render()
}

// RenderTrades writes the trade log as a text table.
func RenderTrades(w io.Writer, trades []models.Trade, adjustments map[uint][]models.Adjustment) {
	table := newTable(w, tradeLogHeader)
	for _, t := range trades {
		table.Append(tradeLogRow(t, adjustments[t.ID]))
	}
	table.Render()
}
