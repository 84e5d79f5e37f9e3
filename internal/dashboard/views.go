package dashboard

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nifty-paper-terminal/internal/models"
	"nifty-paper-terminal/internal/report"
	"nifty-paper-terminal/internal/trader"
)

// LiveView is what /api/live and /ws/live deliver. Before init only the
// flag is set.
type LiveView struct {
	Initialised bool `json:"initialised"`
	*trader.Snapshot
}

func (s *Server) liveView() LiveView {
	e := s.currentEngine()
	if e == nil {
		return LiveView{}
	}
	snap := e.Snapshot()
	return LiveView{Initialised: true, Snapshot: &snap}
}

func (s *Server) liveSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.liveView())
}

func (s *Server) positions(c *gin.Context) {
	views := []trader.PositionView{}
	if e := s.currentEngine(); e != nil {
		views = e.Positions()
	}
	c.JSON(http.StatusOK, views)
}

// trades returns the trade history, newest first. ?date=YYYY-MM-DD limits
// it to one trading day.
func (s *Server) trades(c *gin.Context) {
	var (
		trades []models.Trade
		err    error
	)
	if date := c.Query("date"); date != "" {
		if _, perr := time.Parse(report.DateLayout, date); perr != nil {
			fail(c, fmt.Errorf("%w: date must be YYYY-MM-DD", errBadRequest))
			return
		}
		trades, err = s.store.TradesOn(date)
	} else {
		trades, err = s.store.AllTrades()
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// adjustments loads the adjustment log for each trade.
func (s *Server) adjustments(trades []models.Trade) (map[uint][]models.Adjustment, error) {
	out := make(map[uint][]models.Adjustment, len(trades))
	for _, t := range trades {
		adjs, err := s.store.AdjustmentsForTrade(t.ID)
		if err != nil {
			return nil, err
		}
		out[t.ID] = adjs
	}
	return out, nil
}

func (s *Server) tradesCSV(c *gin.Context) {
	trades, err := s.store.AllTrades()
	if err != nil {
		fail(c, err)
		return
	}
	adjs, err := s.adjustments(trades)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="paper_trades.csv"`)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := report.WriteTradeLogCSV(c.Writer, trades, adjs); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) dailyPnL(c *gin.Context) {
	summaries, err := s.store.DailySummaries()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (s *Server) weeklyPnL(c *gin.Context) {
	trades, err := s.store.AllTrades()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report.Weekly(trades))
}

func (s *Server) equity(c *gin.Context) {
	trades, err := s.store.AllTrades()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report.EquityCurve(trades))
}
