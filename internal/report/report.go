// Package report aggregates the paper trade history into daily, weekly and
// equity views and renders them as tables or CSV.
package report

import (
	"math"
	"sort"
	"time"

	"nifty-paper-terminal/internal/models"

	"github.com/samber/lo"
)

// DateLayout is the layout of Trade.TradeDate and DailySummary.TradeDate.
const DateLayout = "2006-01-02"

func closed(trades []models.Trade) []models.Trade {
	return lo.Filter(trades, func(t models.Trade, _ int) bool {
		return t.Status == models.StatusClosed
	})
}

// exitTime orders trades without an exit time by entry time.
func exitTime(t models.Trade) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}

func byExit(trades []models.Trade) []models.Trade {
	out := append([]models.Trade(nil), trades...)
	sort.SliceStable(out, func(i, j int) bool {
		return exitTime(out[i]).Before(exitTime(out[j]))
	})
	return out
}

// Summarize rolls up the closed trades of one day. Max drawdown is the
// largest peak-to-trough fall of cumulative realised P&L during the day.
func Summarize(date string, trades []models.Trade) models.DailySummary {
	done := byExit(closed(trades))
	s := models.DailySummary{TradeDate: date, TotalTrades: len(done)}
	if len(done) == 0 {
		return s
	}

	var cum, peak float64
	for _, t := range done {
		if t.RealizedPnL > 0 {
			s.WinningTrades++
		}
		cum += t.RealizedPnL
		peak = math.Max(peak, cum)
		s.MaxDrawdown = math.Max(s.MaxDrawdown, peak-cum)
	}
	s.NetPnL = cum
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	return s
}

// WeeklyRow is the roll-up of one ISO week.
type WeeklyRow struct {
	Year    int     `json:"year"`
	Week    int     `json:"week"`
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	NetPnL  float64 `json:"net_pnl"`
	WinRate float64 `json:"win_rate"`
}

// Weekly groups closed trades by the ISO week of their trade date, oldest
// first. Trades with an unparsable date are skipped.
func Weekly(trades []models.Trade) []WeeklyRow {
	type key struct{ year, week int }
	groups := lo.GroupBy(closed(trades), func(t models.Trade) key {
		d, err := time.Parse(DateLayout, t.TradeDate)
		if err != nil {
			return key{}
		}
		y, w := d.ISOWeek()
		return key{y, w}
	})
	delete(groups, key{})

	rows := make([]WeeklyRow, 0, len(groups))
	for k, ts := range groups {
		row := WeeklyRow{
			Year:   k.year,
			Week:   k.week,
			Trades: len(ts),
			NetPnL: lo.SumBy(ts, func(t models.Trade) float64 { return t.RealizedPnL }),
			Wins: len(lo.Filter(ts, func(t models.Trade, _ int) bool {
				return t.RealizedPnL > 0
			})),
		}
		row.WinRate = float64(row.Wins) / float64(row.Trades) * 100
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].Week < rows[j].Week
	})
	return rows
}

// EquityPoint is the cumulative realised P&L after one closed trade.
type EquityPoint struct {
	TradeID    uint      `json:"trade_id"`
	Time       time.Time `json:"time"`
	PnL        float64   `json:"pnl"`
	Cumulative float64   `json:"cumulative"`
}

// EquityCurve returns cumulative realised P&L of closed trades in exit order.
func EquityCurve(trades []models.Trade) []EquityPoint {
	var cum float64
	return lo.Map(byExit(closed(trades)), func(t models.Trade, _ int) EquityPoint {
		cum += t.RealizedPnL
		return EquityPoint{TradeID: t.ID, Time: exitTime(t), PnL: t.RealizedPnL, Cumulative: cum}
	})
}
